package sink

import (
	"bytes"
	"context"
	"io"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jlaffaye/ftp"
)

const ftpDialTimeout = 30 * time.Second

// FTPStore maps containers to directories under Root on an FTP server.
// A connection is opened per operation; runs are hourly.
type FTPStore struct {
	Addr     string
	User     string
	Password string
	Root     string
}

func NewFTPStore(addr, user, password, root string) *FTPStore {
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	if root == "" {
		root = "/"
	}
	return &FTPStore{Addr: addr, User: user, Password: password, Root: root}
}

func (f *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.Addr, ftp.DialWithTimeout(ftpDialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "ftp dial")
	}
	if err := conn.Login(f.User, f.Password); err != nil {
		_ = conn.Quit()
		return nil, errors.Wrap(err, "ftp login")
	}
	return conn, nil
}

func (f *FTPStore) ListContainers(ctx context.Context) ([]string, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()
	return listDirs(conn, f.Root)
}

func (f *FTPStore) CreateContainer(ctx context.Context, name string) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	mkErr := conn.MakeDir(path.Join(f.Root, name))
	if mkErr == nil {
		return nil
	}
	// Servers disagree on the reply for an existing directory; look instead.
	dirs, err := listDirs(conn, f.Root)
	if err != nil {
		return errors.Wrapf(mkErr, "ftp mkdir %s", name)
	}
	for _, d := range dirs {
		if d == name {
			return nil
		}
	}
	return errors.Wrapf(mkErr, "ftp mkdir %s", name)
}

func (f *FTPStore) PutObject(ctx context.Context, container, key string, body []byte) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Stor(path.Join(f.Root, container, key), bytes.NewReader(body)); err != nil {
		return errors.Wrapf(err, "ftp stor %s/%s", container, key)
	}
	return nil
}

func (f *FTPStore) GetObject(ctx context.Context, container, key string) ([]byte, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(path.Join(f.Root, container, key))
	if err != nil {
		return nil, errors.Wrapf(err, "ftp retr %s/%s", container, key)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

func listDirs(conn *ftp.ServerConn, root string) ([]string, error) {
	entries, err := conn.List(root)
	if err != nil {
		return nil, errors.Wrap(err, "ftp list")
	}
	var names []string
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFolder || e.Name == "." || e.Name == ".." {
			continue
		}
		names = append(names, e.Name)
	}
	return names, nil
}
