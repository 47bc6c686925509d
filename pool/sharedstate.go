package pool

import (
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/arelius/offloadpool/internal/ipc"
)

// sharedState is a mapping concurrently accessible from every worker
// process. The main process holds the authoritative sync.Map and
// exposes it over net/rpc; each worker process
// holds a thin client plus a local read-through cache so that
// IsCancelled checks, which happen on every cooperative-cancellation poll,
// do not round-trip over IPC for keys already seen.
type sharedState struct {
	mu    sync.Mutex
	data  sync.Map // string -> []byte (gob-encoded)
	rpc   *rpc.Server
	lis   net.Listener
	sock  string
	lock  *ipc.CrossProcessLock
}

// SharedStateService is the net/rpc-exported type backing the shared
// state map. Methods must be exported with the (args, *reply) signature
// net/rpc requires.
type SharedStateService struct {
	s *sharedState
}

type GetArgs struct{ Key string }
type GetReply struct {
	Value []byte
	Found bool
}
type SetArgs struct {
	Key   string
	Value []byte
}
type SetReply struct{}
type DeleteArgs struct{ Key string }
type DeleteReply struct{}

func (svc *SharedStateService) Get(args GetArgs, reply *GetReply) error {
	v, ok := svc.s.data.Load(args.Key)
	if !ok {
		reply.Found = false
		return nil
	}
	reply.Value = v.([]byte)
	reply.Found = true
	return nil
}

func (svc *SharedStateService) Set(args SetArgs, reply *SetReply) error {
	svc.s.data.Store(args.Key, args.Value)
	return nil
}

func (svc *SharedStateService) Delete(args DeleteArgs, reply *DeleteReply) error {
	svc.s.data.Delete(args.Key)
	return nil
}

func newSharedState(runtimeDir string) (*sharedState, error) {
	sock := filepath.Join(runtimeDir, fmt.Sprintf("offloadpool-%d.sock", os.Getpid()))
	lockPath := filepath.Join(runtimeDir, fmt.Sprintf("offloadpool-%d.lock", os.Getpid()))

	s := &sharedState{sock: sock}

	lock, err := ipc.NewCrossProcessLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("offloadpool: create cross-process lock: %w", err)
	}
	s.lock = lock

	server := rpc.NewServer()
	if err := server.RegisterName("SharedState", &SharedStateService{s: s}); err != nil {
		return nil, fmt.Errorf("offloadpool: register shared state service: %w", err)
	}
	s.rpc = server

	lis, err := listenSharedState(sock)
	if err != nil {
		return nil, fmt.Errorf("offloadpool: listen shared state socket: %w", err)
	}
	s.lis = lis

	go server.Accept(lis)
	return s, nil
}

// listenSharedState binds a Unix domain socket on unix-like platforms and
// falls back to loopback TCP on Windows, where no compatible socket type
// exists in net for net/rpc's stream transport.
func listenSharedState(sock string) (net.Listener, error) {
	if runtime.GOOS == "windows" {
		return net.Listen("tcp", "127.0.0.1:0")
	}
	os.Remove(sock)
	return net.Listen("unix", sock)
}

func (s *sharedState) Addr() string { return s.lis.Addr().String() }

// sharedStateNetwork reports the net/rpc network kind a worker should
// dial to reach the main process's shared state service.
func sharedStateNetwork() string {
	if runtime.GOOS == "windows" {
		return "tcp"
	}
	return "unix"
}

// Set stores a gob-decodable value locally (the main process is always
// the authority and never needs to round-trip to itself).
func (s *sharedState) Set(key string, value any) error {
	data, err := ipc.EncodeValue(value)
	if err != nil {
		return err
	}
	s.data.Store(key, data)
	return nil
}

func (s *sharedState) Get(key string, out any) (bool, error) {
	v, ok := s.data.Load(key)
	if !ok {
		return false, nil
	}
	return true, ipc.DecodeValue(v.([]byte), out)
}

func (s *sharedState) Delete(key string) { s.data.Delete(key) }

// WithLock runs fn while holding the advisory cross-process lock. Callers
// must never hold this lock across an IPC send to a worker.
func (s *sharedState) WithLock(fn func()) error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()
	fn()
	return nil
}

func (s *sharedState) Close() error {
	var firstErr error
	if s.lis != nil {
		if err := s.lis.Close(); err != nil {
			firstErr = err
		}
	}
	if s.lock != nil {
		if err := s.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.sock != "" {
		os.Remove(s.sock)
	}
	return firstErr
}

// sharedStateClient is the worker-side accessor, a thin net/rpc client
// plus a local cache holding every value it has already fetched or set.
// An update_state_value notification drops that key from the cache; a key
// the main process reports as not found is not cached.
type sharedStateClient struct {
	mu    sync.Mutex
	conn  *rpc.Client
	cache sync.Map // string -> []byte
}

func dialSharedState(network, addr string) (*sharedStateClient, error) {
	conn, err := rpc.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("offloadpool: dial shared state service: %w", err)
	}
	return &sharedStateClient{conn: conn}, nil
}

func (c *sharedStateClient) Get(key string, out any) (bool, error) {
	if v, ok := c.cache.Load(key); ok {
		return true, ipc.DecodeValue(v.([]byte), out)
	}
	var reply GetReply
	if err := c.conn.Call("SharedState.Get", GetArgs{Key: key}, &reply); err != nil {
		return false, err
	}
	if !reply.Found {
		return false, nil
	}
	c.cache.Store(key, reply.Value)
	return true, ipc.DecodeValue(reply.Value, out)
}

func (c *sharedStateClient) Set(key string, value any) error {
	data, err := ipc.EncodeValue(value)
	if err != nil {
		return err
	}
	c.cache.Store(key, data)
	var reply SetReply
	return c.conn.Call("SharedState.Set", SetArgs{Key: key, Value: data}, &reply)
}

func (c *sharedStateClient) Close() error { return c.conn.Close() }
