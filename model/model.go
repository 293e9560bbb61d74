package model

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job binds a training strategy to a dataset. Code and Score are set at
// most once, by the runner that processes the job.
type Job struct {
	ID           uuid.UUID
	Strategy     string
	Dataset      *Dataset
	Code         *Code
	Score        int64
	CreationTime time.Time
	StartTime    *time.Time
	EndTime      *time.Time
}

func NewJob(strategy string, d *Dataset) *Job {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Job{
		ID:           id,
		Strategy:     strategy,
		Dataset:      d,
		CreationTime: time.Now().UTC(),
	}
}

// Trained reports whether a runner produced code for the job.
func (j *Job) Trained() bool {
	return j.Code != nil
}

// Adopt records a training result. It is a no-op once the job is trained.
func (j *Job) Adopt(code *Code, score int64) {
	if j.Code != nil || code == nil {
		return
	}
	j.Code = code
	j.Score = score
}

// RemoteServer is a configured training server. The broken reason is
// sticky for the lifetime of the process.
type RemoteServer struct {
	Name string `yaml:"name" json:"name"`
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	mu     sync.Mutex
	broken string
}

func NewRemoteServer(name, host string, port int) *RemoteServer {
	if name == "" {
		name = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return &RemoteServer{Name: name, Host: host, Port: port}
}

func (s *RemoteServer) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *RemoteServer) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Addr())
}

// MarkBroken records why communication with the server failed. The
// latest reason wins.
func (s *RemoteServer) MarkBroken(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = reason
}

func (s *RemoteServer) Broken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken, s.broken != ""
}
