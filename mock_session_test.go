package goftp

import (
	"bytes"
	"context"
	"io"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// errFileUnavailable is what a healthy server answers for a refused command.
func errFileUnavailable(p string) error {
	return &textproto.Error{Code: 550, Msg: p + ": No such file or directory"}
}

// fakeServer is an in-memory remote file server. Every session it dials
// shares the same tree, so data survives reconnects.
type fakeServer struct {
	mu sync.Mutex

	dirs     map[string]bool
	files    map[string][]byte
	loginDir string

	dials      int
	dialErr    error
	lastConfig ConnectionConfig
	sessions   []*fakeSession
	log        []string

	// Failure injection.
	rejectPathList  bool             // LIST with an argument is refused
	rejectMultiCd   bool             // CWD with more than one segment is refused
	rejectAbsRetr   bool             // RETR with an absolute path is refused
	failLists       error            // every LIST fails
	lockedDirs      map[string]bool  // LIST and CWD of these dirs are refused
	failRetr        map[string]error // RETR of these paths always fails
	dropOnRetrieve  int              // next N RETRs drop the session
	dropOnStore     int              // next N STORs drop the session
	inFlight        atomic.Int32
	overlapDetected atomic.Bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		dirs:     map[string]bool{"/": true},
		files:    map[string][]byte{},
		loginDir: "/",
		failRetr: map[string]error{},
	}
}

// addDir creates p and its parents.
func (srv *fakeServer) addDir(p string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.addDirLocked(NormalizeRemotePath(p))
}

func (srv *fakeServer) addDirLocked(p string) {
	for p != "/" {
		srv.dirs[p] = true
		p = path.Dir(p)
	}
}

// addFile creates a file and its parent directories.
func (srv *fakeServer) addFile(p, content string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	p = NormalizeRemotePath(p)
	srv.addDirLocked(path.Dir(p))
	srv.files[p] = []byte(content)
}

func (srv *fakeServer) file(p string) (string, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	data, ok := srv.files[p]
	return string(data), ok
}

func (srv *fakeServer) hasDir(p string) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.dirs[p]
}

func (srv *fakeServer) dialCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.dials
}

func (srv *fakeServer) commands() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]string(nil), srv.log...)
}

func (srv *fakeServer) resetLog() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.log = nil
}

// dropAll simulates the server closing every control connection.
func (srv *fakeServer) dropAll() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, s := range srv.sessions {
		s.closed = true
	}
}

// current returns the most recently dialed session.
func (srv *fakeServer) current() *fakeSession {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.sessions) == 0 {
		return nil
	}
	return srv.sessions[len(srv.sessions)-1]
}

func (srv *fakeServer) Dial(ctx context.Context, config ConnectionConfig) (Session, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.dials++
	srv.lastConfig = config
	if srv.dialErr != nil {
		return nil, srv.dialErr
	}
	s := &fakeSession{srv: srv, cwd: srv.loginDir}
	srv.sessions = append(srv.sessions, s)
	return s, nil
}

// newSession opens a session without going through a ConnectionManager.
func (srv *fakeServer) newSession() *fakeSession {
	s, _ := srv.Dial(context.Background(), ConnectionConfig{})
	return s.(*fakeSession)
}

// fakeSession is one control connection to a fakeServer.
type fakeSession struct {
	srv    *fakeServer
	cwd    string
	closed bool
}

var _ Session = (*fakeSession)(nil)

// begin records cmd and flags any command that overlaps another.
func (s *fakeSession) begin(cmd string) func() {
	if s.srv.inFlight.Add(1) > 1 {
		s.srv.overlapDetected.Store(true)
	}
	s.srv.mu.Lock()
	s.srv.log = append(s.srv.log, cmd)
	return func() {
		s.srv.mu.Unlock()
		s.srv.inFlight.Add(-1)
	}
}

func (s *fakeSession) resolve(p string) string {
	if p == "" {
		return s.cwd
	}
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *fakeSession) alive() error {
	if s.closed {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (s *fakeSession) List(p string) ([]RawEntry, error) {
	defer s.begin("LIST " + p)()
	if err := s.alive(); err != nil {
		return nil, err
	}
	if s.srv.failLists != nil {
		return nil, s.srv.failLists
	}
	if p != "" && s.srv.rejectPathList {
		return nil, &textproto.Error{Code: 501, Msg: "Syntax error in parameters"}
	}
	dir := s.resolve(p)
	if !s.srv.dirs[dir] || s.srv.lockedDirs[dir] {
		return nil, errFileUnavailable(dir)
	}

	var raw []RawEntry
	for d := range s.srv.dirs {
		if d != "/" && path.Dir(d) == dir {
			raw = append(raw, RawEntry{Name: path.Base(d), Kind: KindDirectory})
		}
	}
	for f, data := range s.srv.files {
		if path.Dir(f) == dir {
			raw = append(raw, RawEntry{Name: path.Base(f), Kind: KindFile, Size: int64(len(data))})
		}
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].Name < raw[j].Name })
	return raw, nil
}

func (s *fakeSession) ChangeDir(p string) error {
	defer s.begin("CWD " + p)()
	if err := s.alive(); err != nil {
		return err
	}
	if s.srv.rejectMultiCd && strings.Contains(strings.Trim(p, "/"), "/") {
		return errFileUnavailable(p)
	}
	target := s.resolve(p)
	if !s.srv.dirs[target] || s.srv.lockedDirs[target] {
		return errFileUnavailable(target)
	}
	s.cwd = target
	return nil
}

func (s *fakeSession) CurrentDir() (string, error) {
	defer s.begin("PWD")()
	if err := s.alive(); err != nil {
		return "", err
	}
	return s.cwd, nil
}

func (s *fakeSession) Retrieve(p string, w io.Writer) error {
	defer s.begin("RETR " + p)()
	if err := s.alive(); err != nil {
		return err
	}
	if s.srv.dropOnRetrieve > 0 {
		s.srv.dropOnRetrieve--
		s.closed = true
		return io.ErrUnexpectedEOF
	}
	if s.srv.rejectAbsRetr && strings.HasPrefix(p, "/") {
		return errFileUnavailable(p)
	}
	target := s.resolve(p)
	if err, ok := s.srv.failRetr[target]; ok {
		return err
	}
	data, ok := s.srv.files[target]
	if !ok {
		return errFileUnavailable(target)
	}
	_, err := w.Write(data)
	return err
}

func (s *fakeSession) Store(p string, r io.Reader) error {
	defer s.begin("STOR " + p)()
	if err := s.alive(); err != nil {
		return err
	}
	if s.srv.dropOnStore > 0 {
		s.srv.dropOnStore--
		s.closed = true
		return io.ErrUnexpectedEOF
	}
	target := s.resolve(p)
	if !s.srv.dirs[path.Dir(target)] {
		return errFileUnavailable(target)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.srv.files[target] = buf.Bytes()
	return nil
}

func (s *fakeSession) MakeDir(p string) error {
	defer s.begin("MKD " + p)()
	if err := s.alive(); err != nil {
		return err
	}
	target := s.resolve(p)
	if s.srv.dirs[target] {
		return &textproto.Error{Code: 550, Msg: target + ": File exists"}
	}
	if !s.srv.dirs[path.Dir(target)] {
		return errFileUnavailable(target)
	}
	s.srv.dirs[target] = true
	return nil
}

func (s *fakeSession) Delete(p string) error {
	defer s.begin("DELE " + p)()
	if err := s.alive(); err != nil {
		return err
	}
	target := s.resolve(p)
	if _, ok := s.srv.files[target]; !ok {
		return errFileUnavailable(target)
	}
	delete(s.srv.files, target)
	return nil
}

func (s *fakeSession) RemoveDir(p string) error {
	defer s.begin("RMD " + p)()
	if err := s.alive(); err != nil {
		return err
	}
	target := s.resolve(p)
	if !s.srv.dirs[target] || target == "/" {
		return errFileUnavailable(target)
	}
	for d := range s.srv.dirs {
		if path.Dir(d) == target && d != target {
			return &textproto.Error{Code: 550, Msg: target + ": Directory not empty"}
		}
	}
	for f := range s.srv.files {
		if path.Dir(f) == target {
			return &textproto.Error{Code: 550, Msg: target + ": Directory not empty"}
		}
	}
	delete(s.srv.dirs, target)
	return nil
}

func (s *fakeSession) Rename(from, to string) error {
	defer s.begin("RNFR " + from + " RNTO " + to)()
	if err := s.alive(); err != nil {
		return err
	}
	src, dst := s.resolve(from), s.resolve(to)
	if data, ok := s.srv.files[src]; ok {
		delete(s.srv.files, src)
		s.srv.files[dst] = data
		return nil
	}
	if !s.srv.dirs[src] {
		return errFileUnavailable(src)
	}
	var dirs, files []string
	for d := range s.srv.dirs {
		if d == src || strings.HasPrefix(d, src+"/") {
			dirs = append(dirs, d)
		}
	}
	for f := range s.srv.files {
		if strings.HasPrefix(f, src+"/") {
			files = append(files, f)
		}
	}
	for _, d := range dirs {
		delete(s.srv.dirs, d)
		s.srv.dirs[dst+strings.TrimPrefix(d, src)] = true
	}
	for _, f := range files {
		data := s.srv.files[f]
		delete(s.srv.files, f)
		s.srv.files[dst+strings.TrimPrefix(f, src)] = data
	}
	return nil
}

func (s *fakeSession) FileSize(p string) (int64, error) {
	defer s.begin("SIZE " + p)()
	if err := s.alive(); err != nil {
		return 0, err
	}
	target := s.resolve(p)
	data, ok := s.srv.files[target]
	if !ok {
		return 0, errFileUnavailable(target)
	}
	return int64(len(data)), nil
}

func (s *fakeSession) Closed() bool {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Close() error {
	defer s.begin("QUIT")()
	s.closed = true
	return nil
}

// workingDir reads the session cursor without logging a command.
func (s *fakeSession) workingDir() string {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	return s.cwd
}
