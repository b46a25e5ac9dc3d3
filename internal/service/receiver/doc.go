// Package receiver starts, probes and stops broadcast receivers on target hosts.
// Every host is handled concurrently and independently: a slow or failing host
// never delays or fails the others.
package receiver
