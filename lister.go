package goftp

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// listStrategy is one way of getting a directory listing out of a server.
// It returns the directory the raw names are relative to.
type listStrategy struct {
	name string
	list func(s Session, p string) (base string, entries []RawEntry, err error)
}

// listStrategies are tried in order; the first success wins. Servers
// differ in whether LIST accepts an absolute path, whether CWD accepts a
// multi-segment path, and whether either works at all outside the login
// directory.
var listStrategies = []listStrategy{
	{name: "direct", list: listDirect},
	{name: "cd-then-list", list: listAfterChangeDir},
	{name: "segment-walk", list: listBySegments},
}

// listDirect passes the path straight to LIST. The root is listed as the
// working directory, whose real location comes from PWD.
func listDirect(s Session, p string) (string, []RawEntry, error) {
	if p == "/" {
		raw, err := s.List("")
		if err != nil {
			return "", nil, err
		}
		base := "/"
		if wd, err := s.CurrentDir(); err == nil {
			base = wd
		}
		return base, raw, nil
	}

	raw, err := s.List(p)
	if err != nil {
		return "", nil, err
	}
	return p, raw, nil
}

func listAfterChangeDir(s Session, p string) (string, []RawEntry, error) {
	if err := s.ChangeDir(p); err != nil {
		return "", nil, err
	}
	raw, err := s.List("")
	if err != nil {
		return "", nil, err
	}
	base := p
	if wd, err := s.CurrentDir(); err == nil {
		base = wd
	}
	return base, raw, nil
}

// listBySegments walks into the directory one component at a time,
// ignoring components the server refuses.
func listBySegments(s Session, p string) (string, []RawEntry, error) {
	before, err := s.CurrentDir()
	if err != nil {
		before = p
	}

	_ = s.ChangeDir("/")
	for _, seg := range pathSegments(p) {
		_ = s.ChangeDir(seg)
	}

	raw, err := s.List("")
	if err != nil {
		return "", nil, err
	}
	base := before
	if wd, err := s.CurrentDir(); err == nil {
		base = wd
	}
	return base, raw, nil
}

// resolveListing runs the strategies against s and anchors the winning
// listing to absolute paths.
func resolveListing(s Session, logger zerolog.Logger, p string) ([]RemoteEntry, error) {
	p = NormalizeRemotePath(p)

	var errs []error
	for _, strategy := range listStrategies {
		base, raw, err := strategy.list(s, p)
		if err == nil {
			if len(errs) > 0 {
				logger.Debug().Str("path", p).Str("strategy", strategy.name).Msg("listing resolved by fallback")
			}
			return anchorEntries(base, raw), nil
		}
		logger.Debug().Err(err).Str("path", p).Str("strategy", strategy.name).Msg("listing strategy failed")
		errs = append(errs, fmt.Errorf("%s: %w", strategy.name, err))
	}

	return nil, &ListingError{Path: p, Err: errors.Join(errs...)}
}

func anchorEntries(base string, raw []RawEntry) []RemoteEntry {
	base = NormalizeRemotePath(base)
	entries := make([]RemoteEntry, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" || r.Name == "." || r.Name == ".." {
			continue
		}
		entries = append(entries, RemoteEntry{
			Name:        r.Name,
			Path:        joinRemote(base, r.Name),
			Kind:        r.Kind,
			Size:        r.Size,
			ModifiedAt:  r.ModifiedAt,
			Permissions: r.Permissions,
		})
	}
	return entries
}

// pushd records the session's working directory and returns a function
// that moves back to it. If the directory cannot be read there is nothing
// to restore.
func pushd(s Session, logger zerolog.Logger) (restore func()) {
	saved, err := s.CurrentDir()
	if err != nil {
		logger.Debug().Err(err).Msg("could not read working directory")
		return func() {}
	}
	return func() {
		if err := s.ChangeDir(saved); err != nil {
			logger.Warn().Err(err).Str("dir", saved).Msg("failed to restore working directory")
		}
	}
}

// listReadonly lists p and leaves the working directory where it was.
// A listing that fails every strategy yields no entries.
func listReadonly(s Session, logger zerolog.Logger, p string) []RemoteEntry {
	defer pushd(s, logger)()

	entries, err := resolveListing(s, logger, p)
	if err != nil {
		logger.Debug().Err(err).Str("path", p).Msg("read-only listing found nothing")
		return []RemoteEntry{}
	}
	return entries
}
