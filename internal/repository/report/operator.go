package report

import (
	"fmt"
	"os"
	"os/user"
)

// Operator identifies who started a session.
type Operator struct {
	// Hostname is the machine the session ran on.
	Hostname string `yaml:"hostname"`
	// Username is the local account that ran it.
	Username string `yaml:"username"`
}

// DetectOperator gathers host and user information for the audit trail.
func DetectOperator() (*Operator, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Operator{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// String returns user@host.
func (o *Operator) String() string {
	if o == nil {
		return ""
	}

	return o.Username + "@" + o.Hostname
}
