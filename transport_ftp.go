package goftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
)

// ftpSession adapts an ftp.ServerConn to Session. Every command runs under
// clock, so a server that stops answering fails the command instead of
// holding the session forever.
type ftpSession struct {
	conn   *ftp.ServerConn
	clock  *commandClock
	closed atomic.Bool
}

var _ Session = (*ftpSession)(nil)

func dialFTP(ctx context.Context, config ConnectionConfig, logger zerolog.Logger) (Session, error) {
	clock := newCommandClock(config.Timeout)
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(config.Timeout),
	}

	var control net.Conn
	if config.Secure || config.Protocol == ProtocolFTPS {
		tlsConf, err := buildTLSConfig(config)
		if err != nil {
			return nil, err
		}
		// TLS data connections are opened by the library; only the
		// control connection is dialed here.
		control, err = clock.dialer(ctx, config.Timeout)("tcp", config.Address())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", config.Address(), err)
		}
		if config.ImplicitTLS {
			control = tls.Client(control, tlsConf)
			opts = append(opts, ftp.DialWithTLS(tlsConf))
		} else {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsConf))
		}
		opts = append(opts, ftp.DialWithNetConn(control))
	} else {
		opts = append(opts, ftp.DialWithDialFunc(clock.dialer(ctx, config.Timeout)))
	}

	if !config.Passive {
		logger.Debug().Str("host", config.Host).Msg("active mode unsupported, using passive data connections")
	}

	end := clock.begin()
	conn, err := ftp.Dial(config.Address(), opts...)
	if err != nil {
		end()
		if control != nil {
			_ = control.Close()
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address(), err)
	}

	user, pass := config.Username, config.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	err = conn.Login(user, pass)
	end()
	if err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("failed to log in as %s: %w", user, err)
	}

	return &ftpSession{conn: conn, clock: clock}, nil
}

// buildTLSConfig translates SecureOptions into a tls.Config.
func buildTLSConfig(config ConnectionConfig) (*tls.Config, error) {
	tlsConf := &tls.Config{
		ServerName: config.Host,
	}
	for key, value := range config.SecureOptions {
		switch key {
		case "server_name":
			tlsConf.ServerName = value
		case "insecure_skip_verify":
			skip, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid insecure_skip_verify %q: %w", value, err)
			}
			tlsConf.InsecureSkipVerify = skip
		case "min_version":
			switch value {
			case "1.2":
				tlsConf.MinVersion = tls.VersionTLS12
			case "1.3":
				tlsConf.MinVersion = tls.VersionTLS13
			default:
				return nil, fmt.Errorf("unsupported min_version %q", value)
			}
		}
	}
	return tlsConf, nil
}

// check records a connection-level failure so Closed reports it.
func (s *ftpSession) check(err error) error {
	if err != nil && IsConnectionError(err) {
		s.closed.Store(true)
	}
	return err
}

func (s *ftpSession) List(path string) ([]RawEntry, error) {
	defer s.clock.begin()()
	entries, err := s.conn.List(path)
	if err != nil {
		return nil, s.check(err)
	}

	raw := make([]RawEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		kind := KindFile
		if e.Type == ftp.EntryTypeFolder {
			kind = KindDirectory
		}
		raw = append(raw, RawEntry{
			Name:       e.Name,
			Kind:       kind,
			Size:       int64(e.Size),
			ModifiedAt: e.Time,
		})
	}
	return raw, nil
}

func (s *ftpSession) ChangeDir(path string) error {
	defer s.clock.begin()()
	return s.check(s.conn.ChangeDir(path))
}

func (s *ftpSession) CurrentDir() (string, error) {
	defer s.clock.begin()()
	dir, err := s.conn.CurrentDir()
	return dir, s.check(err)
}

func (s *ftpSession) Retrieve(path string, w io.Writer) error {
	defer s.clock.begin()()
	resp, err := s.conn.Retr(path)
	if err != nil {
		return s.check(err)
	}
	_, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		return s.check(fmt.Errorf("failed to read %s: %w", path, copyErr))
	}
	return s.check(closeErr)
}

func (s *ftpSession) Store(path string, r io.Reader) error {
	defer s.clock.begin()()
	return s.check(s.conn.Stor(path, r))
}

func (s *ftpSession) MakeDir(path string) error {
	defer s.clock.begin()()
	return s.check(s.conn.MakeDir(path))
}

func (s *ftpSession) Delete(path string) error {
	defer s.clock.begin()()
	return s.check(s.conn.Delete(path))
}

func (s *ftpSession) RemoveDir(path string) error {
	defer s.clock.begin()()
	return s.check(s.conn.RemoveDir(path))
}

func (s *ftpSession) Rename(from, to string) error {
	defer s.clock.begin()()
	return s.check(s.conn.Rename(from, to))
}

func (s *ftpSession) FileSize(path string) (int64, error) {
	defer s.clock.begin()()
	size, err := s.conn.FileSize(path)
	return size, s.check(err)
}

func (s *ftpSession) Closed() bool {
	return s.closed.Load()
}

func (s *ftpSession) Close() error {
	defer s.clock.begin()()
	s.closed.Store(true)
	return s.conn.Quit()
}
