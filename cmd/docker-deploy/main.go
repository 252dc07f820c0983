package main

import "github.com/oshokin/docker-deploy/cmd/docker-deploy/cmd"

func main() {
	cmd.Execute()
}
