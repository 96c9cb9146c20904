package serlink

import (
	"io"

	"golang.org/x/crypto/ssh"
)

// SSHTransport runs the peer role as a remote command over an SSH session
// and uses the session's stdio as the byte channel. Useful when the serial
// line terminates on another host, or for transfers tunnelled through a
// jump box.
type SSHTransport struct {
	*PipeTransport
	session *ssh.Session
	stdin   io.WriteCloser
}

// NewSSHTransport opens a session on client, starts command remotely and
// wires its stdio into a Transport. The command is expected to speak the
// peer role of the protocol (e.g. "slrecv -dir incoming -stdio").
func NewSSHTransport(client *ssh.Client, command string) (*SSHTransport, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		stdin.Close()
		session.Close()
		return nil, err
	}

	if err := session.Start(command); err != nil {
		stdin.Close()
		session.Close()
		return nil, err
	}

	return &SSHTransport{
		PipeTransport: NewPipeTransport(stdout, stdin),
		session:       session,
		stdin:         stdin,
	}, nil
}

// Close signals end of input to the remote command and tears the session
// down.
func (t *SSHTransport) Close() error {
	var first error
	if err := t.stdin.Close(); err != nil {
		first = err
	}
	if err := t.session.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Wait blocks until the remote command exits.
func (t *SSHTransport) Wait() error {
	return t.session.Wait()
}
