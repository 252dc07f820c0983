package deployer

import (
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/docker-deploy/internal/domain/deploy"
)

// DetectOperator gathers host and user information for the deployment report.
func DetectOperator() (deploy.Operator, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return deploy.Operator{}, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return deploy.Operator{}, fmt.Errorf("current user: %w", err)
	}

	return deploy.Operator{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}
