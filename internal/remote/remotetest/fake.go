// Package remotetest provides a scriptable remote.Client for tests.
package remotetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/remote"
)

// Rule scripts the answer for matching commands.
type Rule struct {
	// Host restricts the rule to one host; empty matches any host.
	Host transfer.Host
	// Contains restricts the rule to commands containing the substring; empty matches any.
	Contains string
	// ExitCode is the reported exit status.
	ExitCode int
	// Stdout is the reported standard output.
	Stdout string
	// Err is returned instead of a result when set.
	Err error
	// Delay is waited before answering, honouring the context.
	Delay time.Duration
}

// Call records one Run invocation.
type Call struct {
	// Host is the target host.
	Host transfer.Host
	// Request is the request as received.
	Request remote.Request
}

// Client is a fake remote.Client. Unmatched commands succeed with exit 0.
type Client struct {
	mu    sync.Mutex
	rules []Rule
	calls []Call
}

// New creates a fake client with the given rules; earlier rules win.
func New(rules ...Rule) *Client {
	return &Client{
		rules: rules,
	}
}

// Add appends a rule with the lowest precedence.
func (c *Client) Add(rule Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = append(c.rules, rule)
}

// Unreachable returns a rule failing every command on host with ErrConnect after delay.
func Unreachable(host transfer.Host, delay time.Duration) Rule {
	return Rule{
		Host:  host,
		Err:   transfer.NewHostError(host, transfer.ErrConnect),
		Delay: delay,
	}
}

// Run implements remote.Client.
func (c *Client) Run(ctx context.Context, host transfer.Host, req remote.Request) (*remote.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Host: host, Request: req})
	rule, found := c.match(host, req)
	c.mu.Unlock()

	if !found {
		return &remote.Result{ExitCode: 0}, nil
	}

	if rule.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, transfer.NewHostError(host, ctx.Err())
		case <-time.After(rule.Delay):
		}
	}

	if rule.Err != nil {
		return nil, rule.Err
	}

	return &remote.Result{ExitCode: rule.ExitCode, Stdout: rule.Stdout}, nil
}

// Calls returns a copy of every recorded call.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Call(nil), c.calls...)
}

// CallsContaining returns the recorded calls whose command contains substr.
func (c *Client) CallsContaining(substr string) []Call {
	var matched []Call

	for _, call := range c.Calls() {
		if strings.Contains(call.Request.Command, substr) {
			matched = append(matched, call)
		}
	}

	return matched
}

// match finds the first rule for host and req. The caller holds the lock.
func (c *Client) match(host transfer.Host, req remote.Request) (Rule, bool) {
	for _, rule := range c.rules {
		if rule.Host != "" && rule.Host != host {
			continue
		}

		if rule.Contains != "" && !strings.Contains(req.Command, rule.Contains) {
			continue
		}

		return rule, true
	}

	return Rule{}, false
}
