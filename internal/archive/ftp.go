package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpDialTimeout = 30 * time.Second

// FTPArchive is an Archive backed by an anonymous FTP session. The control
// connection is owned by the archive for the whole run and closed exactly
// once via Close.
type FTPArchive struct {
	conn   *ftp.ServerConn
	folder string
	logger *slog.Logger
}

// DialFTP connects to host, logs in anonymously and changes into folder.
func DialFTP(ctx context.Context, host, folder string, logger *slog.Logger) (*FTPArchive, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "21")
	}

	logger.Info("Connecting to FTP server.", slog.String("addr", addr))
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(ftpDialTimeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", addr, err)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login %s: %w", addr, err)
	}
	if folder != "" && folder != "/" {
		logger.Debug("Changing to FTP directory.", slog.String("folder", folder))
		if err := conn.ChangeDir(folder); err != nil {
			conn.Quit()
			return nil, fmt.Errorf("ftp cwd %s: %w", folder, err)
		}
	}
	return &FTPArchive{conn: conn, folder: folder, logger: logger}, nil
}

// List returns the base names in the archive directory matching pattern.
func (a *FTPArchive) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := a.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("ftp nlst %s: %w", a.folder, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		// Some servers return full paths from NLST.
		name := path.Base(entry)
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("bad list pattern %q: %w", pattern, err)
		}
		if ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Fetch streams the named file into dst via RETR.
func (a *FTPArchive) Fetch(ctx context.Context, name string, dst io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := a.conn.Retr(name)
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", name, err)
	}
	defer resp.Close()

	if _, err := io.Copy(dst, resp); err != nil {
		return fmt.Errorf("ftp read %s: %w", name, err)
	}
	return nil
}

// Close quits the FTP session.
func (a *FTPArchive) Close() error {
	if err := a.conn.Quit(); err != nil {
		return fmt.Errorf("ftp quit: %w", err)
	}
	return nil
}
