package deployer

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/oshokin/docker-deploy/internal/remote"
	"github.com/oshokin/docker-deploy/internal/service/packager"
)

// Remote command lines. Names and paths are quoted; configured build and run
// arguments are shell fragments and are passed through as written.

func runtimeProbeCommand() string {
	return remote.Command("docker", "--version")
}

func mkdirCommand(dir string) string {
	return remote.Command("mkdir", "-p", dir)
}

func extractCommand(archivePath, dir string) string {
	return remote.Command("tar", "-xzf", archivePath, "-C", dir)
}

func descriptorCheckCommand(dir string) string {
	return remote.Command("test", "-s", path.Join(dir, packager.DescriptorName))
}

func removeContainerCommand(containerName string) string {
	return remote.Command("docker", "rm", "-f", containerName)
}

func removeImageCommand(imageName string) string {
	return remote.Command("docker", "rmi", "-f", imageName)
}

func buildCommand(imageName string, buildArgs []string, dir string) string {
	return joinCommand(
		remote.Command("docker", "build", "-t", imageName),
		buildArgs,
		remote.Quote(dir),
	)
}

func runCommand(containerName string, publishPort, containerPort int, runArgs []string, imageName string) string {
	ports := strconv.Itoa(publishPort) + ":" + strconv.Itoa(containerPort)

	return joinCommand(
		remote.Command("docker", "run", "-d",
			"--name", containerName,
			"-p", ports,
			"--restart", "unless-stopped"),
		runArgs,
		remote.Quote(imageName),
	)
}

func statusCommand(containerName string) string {
	return remote.Command("docker", "ps",
		"--filter", "name=^"+regexp.QuoteMeta(containerName)+"$",
		"--format", "{{.Names}} {{.Status}}")
}

func removeDirCommand(dir string) string {
	return remote.Command("rm", "-rf", dir)
}

func joinCommand(head string, fragments []string, tail string) string {
	parts := make([]string, 0, len(fragments)+2)
	parts = append(parts, head)

	for _, fragment := range fragments {
		if fragment = strings.TrimSpace(fragment); fragment != "" {
			parts = append(parts, fragment)
		}
	}

	parts = append(parts, tail)

	return strings.Join(parts, " ")
}
