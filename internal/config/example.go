package config

// Example returns a starter configuration with one production environment.
func Example() *Config {
	cleanup := true

	return &Config{
		LogDir:     "logs",
		DistDir:    DefaultDistDir,
		Descriptor: DefaultDescriptor,
		Environments: map[string]*Environment{
			"prod": {
				ImageName:     "myapp:latest",
				ContainerName: "myapp",
				PublishPort:   DefaultPublishPort,
				ContainerPort: DefaultContainerPort,
				CleanupRemote: &cleanup,
				Servers: []*Server{
					{
						Host:       "203.0.113.10",
						Port:       DefaultSSHPort,
						Username:   DefaultUsername,
						PrivateKey: "~/.ssh/id_ed25519",
						RemoteDir:  DefaultRemoteDir,
					},
				},
			},
		},
	}
}
