package sshconn

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// ExitError carries the exit code of a remote command that didn't return
// success, mirroring the *Option<i32>* the original Rust stores on a bad
// status.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command %q exited with status %d", e.Command, e.Code)
}

// Session wraps one exec'd remote command over an existing *ssh.Client
// connection, exposing the stdin pipe the sudo-password handshake needs
// before the command has finished running.
type Session struct {
	session *ssh.Session
	stdin   io.WriteCloser
}

// StartCommand opens a new SSH session on client and starts cmd running,
// returning before it completes so the caller can feed sudo stdin and
// then wait.
func StartCommand(client *ssh.Client, cmd string) (*Session, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}

	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, fmt.Errorf("starting remote command %q: %w", cmd, err)
	}

	return &Session{session: sess, stdin: stdin}, nil
}

// WriteSudoPassword feeds the sudo password followed by a newline into
// the command's stdin, the way sudo's own "-S" flag expects it, then
// leaves stdin open: closing it is the caller's job via Close, mirroring
// deploy-rs's handle_sudo_stdin which never closes stdin itself.
func (s *Session) WriteSudoPassword(password string) error {
	_, err := s.stdin.Write([]byte(password + "\n"))
	if err != nil {
		return fmt.Errorf("writing sudo password to remote command stdin: %w", err)
	}
	return nil
}

// Wait blocks until the remote command exits and returns an *ExitError if
// its status code wasn't 0.
func (s *Session) Wait(cmd string) error {
	defer s.session.Close()
	err := s.session.Wait()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return &ExitError{Command: cmd, Code: exitErr.ExitStatus()}
	}
	return fmt.Errorf("running remote command %q: %w", cmd, err)
}

// Close releases the underlying SSH session without waiting for the
// command to exit; used on error paths that bail before Wait.
func (s *Session) Close() error {
	return s.session.Close()
}
