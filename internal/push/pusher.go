package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"deployctl/m/v2/internal/settings"
)

// Manifest is the small build-metadata document pushed alongside a
// closure: who built it, when, and from where, so an operator inspecting
// a node afterwards can tell which run put a given generation there.
type Manifest struct {
	SourceCommit string    `json:"sourceCommit,omitempty"`
	BuildHost    string    `json:"buildHost"`
	BuiltAt      time.Time `json:"builtAt"`
	ProfileName  string    `json:"profileName"`
}

// SFTPSCPPusher is the default Pusher: the closure directory tree is
// mirrored onto the target over SFTP (the library the teacher's sibling
// module uses for remote file operations), and a small JSON manifest is
// uploaded alongside it over SCP (the library the teacher's own ssh.go
// uses for its SCPUpload/SCPDownload helpers) -- giving each transfer
// library a distinct, non-overlapping job.
type SFTPSCPPusher struct {
	// Dial returns (or reuses) an *ssh.Client connected to the node named
	// by defs.NodeName / defs.Hostname.
	Dial func(defs settings.DeployDefs) (*ssh.Client, error)
	// RemoteStoreRoot is the base directory store paths are copied under;
	// defaults to "/nix/store".
	RemoteStoreRoot string
	// BuildHost identifies this controller in the pushed manifest.
	BuildHost string
}

func (p SFTPSCPPusher) storeRoot() string {
	if p.RemoteStoreRoot != "" {
		return p.RemoteStoreRoot
	}
	return "/nix/store"
}

// Push copies result.StorePath's local directory tree to the target's
// Nix store over SFTP, then uploads a small manifest describing the build
// over SCP.
func (p SFTPSCPPusher) Push(ctx context.Context, defs settings.DeployDefs, result BuildResult) error {
	client, err := p.Dial(defs)
	if err != nil {
		return fmt.Errorf("dialing %s for push: %w", defs.NodeName, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("opening sftp session to %s: %w", defs.NodeName, err)
	}
	defer sftpClient.Close()

	remoteBase := path.Join(p.storeRoot(), filepath.Base(result.StorePath))
	if err := copyTree(sftpClient, result.StorePath, remoteBase); err != nil {
		return fmt.Errorf("copying closure to %s: %w", defs.NodeName, err)
	}

	manifest := Manifest{
		BuildHost:   p.BuildHost,
		BuiltAt:     time.Now(),
		ProfileName: defs.ProfileName,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding push manifest: %w", err)
	}

	scpClient, err := scp.NewClientBySSHWithTimeout(client, 60*time.Second)
	if err != nil {
		return fmt.Errorf("opening scp session to %s: %w", defs.NodeName, err)
	}
	defer scpClient.Close()

	manifestPath := path.Join(defs.TempPath, "deploy-manifest-"+filepath.Base(result.StorePath)+".json")
	if err := scpClient.Copy(ctx, bytes.NewReader(manifestJSON), manifestPath, "0640", int64(len(manifestJSON))); err != nil {
		return fmt.Errorf("uploading push manifest to %s: %w", defs.NodeName, err)
	}

	return nil
}

// copyTree walks the local directory tree rooted at localPath and
// recreates it at remotePath over an SFTP client, preserving regular
// files, directories and symlinks with their local mode bits -- the
// Go-native equivalent of `nix copy`/`nix-copy-closure` for a single
// store path.
func copyTree(client *sftp.Client, localPath, remotePath string) error {
	return filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		remote := path.Join(remotePath, filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return client.MkdirAll(remote)
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return client.Symlink(target, remote)
		default:
			return copyFile(client, p, remote, info.Mode().Perm())
		}
	})
}

func copyFile(client *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return client.Chmod(remotePath, mode)
}
