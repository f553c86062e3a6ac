// Package memory je úložiště v paměti procesu. Používá se v testech a při STORE=memory.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

type account struct {
	profile model.Profile
	hash    []byte
}

// Store drží všechna data v mapách chráněných jedním zámkem.
type Store struct {
	mu sync.RWMutex

	nextID      int64
	devices     map[int64]model.Device
	brokerUsers map[string]model.BrokerUser
	routes      map[int64]model.Route
	processes   map[int64]model.ImageProcess
	images      []model.Image
	accounts    map[string]account

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New vytvoří prázdné úložiště.
func New() *Store {
	return &Store{
		devices:     make(map[int64]model.Device),
		brokerUsers: make(map[string]model.BrokerUser),
		routes:      make(map[int64]model.Route),
		processes:   make(map[int64]model.ImageProcess),
		accounts:    make(map[string]account),
		now:         time.Now,
	}
}

func (s *Store) Close() {}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func copyDevice(d model.Device) model.Device {
	d.Datapoints = slices.Clone(d.Datapoints)
	if d.Rack != nil {
		v := *d.Rack
		d.Rack = &v
	}
	if d.Slot != nil {
		v := *d.Slot
		d.Slot = &v
	}
	return d
}

// --- zařízení ---

func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, copyDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetDevice(ctx context.Context, id int64) (model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("zařízení %d: %w", id, store.ErrNotFound)
	}
	return copyDevice(d), nil
}

func (s *Store) nameTaken(name string, except int64) bool {
	for id, d := range s.devices {
		if id != except && strings.EqualFold(d.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) CreateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTaken(d.Name, 0) {
		return model.Device{}, fmt.Errorf("zařízení %q: %w", d.Name, store.ErrConflict)
	}
	d.ID = s.id()
	if d.Status == "" {
		d.Status = model.StatusInitializing
	}
	s.devices[d.ID] = copyDevice(d)
	return copyDevice(d), nil
}

func (s *Store) UpdateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.devices[d.ID]
	if !ok {
		return model.Device{}, fmt.Errorf("zařízení %d: %w", d.ID, store.ErrNotFound)
	}
	if s.nameTaken(d.Name, d.ID) {
		return model.Device{}, fmt.Errorf("zařízení %q: %w", d.Name, store.ErrConflict)
	}
	if d.Status == "" {
		d.Status = old.Status
	}
	s.devices[d.ID] = copyDevice(d)
	return copyDevice(d), nil
}

func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return fmt.Errorf("zařízení %d: %w", id, store.ErrNotFound)
	}
	delete(s.devices, id)
	return nil
}

func (s *Store) SetDeviceStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return fmt.Errorf("zařízení %d: %w", id, store.ErrNotFound)
	}
	d.Status = status
	s.devices[id] = d
	return nil
}

// --- uživatelé brokeru ---

func (s *Store) ListBrokerUsers(ctx context.Context) ([]model.BrokerUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.BrokerUser, 0, len(s.brokerUsers))
	for _, u := range s.brokerUsers {
		u.ACLs = slices.Clone(u.ACLs)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) GetBrokerUser(ctx context.Context, username string) (model.BrokerUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.brokerUsers[username]
	if !ok {
		return model.BrokerUser{}, fmt.Errorf("uživatel brokeru %q: %w", username, store.ErrNotFound)
	}
	u.ACLs = slices.Clone(u.ACLs)
	return u, nil
}

func (s *Store) SaveBrokerUser(ctx context.Context, u model.BrokerUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.ACLs = slices.Clone(u.ACLs)
	if u.ACLs == nil {
		u.ACLs = []model.AclEntry{}
	}
	s.brokerUsers[u.Username] = u
	return nil
}

func (s *Store) DeleteBrokerUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.brokerUsers[username]; !ok {
		return fmt.Errorf("uživatel brokeru %q: %w", username, store.ErrNotFound)
	}
	delete(s.brokerUsers, username)
	return nil
}

// --- routy ---

func copyRoute(r model.Route) model.Route {
	r.Headers = slices.Clone(r.Headers)
	r.Devices = slices.Clone(r.Devices)
	return r
}

func (s *Store) ListRoutes(ctx context.Context) ([]model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, copyRoute(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRoute(ctx context.Context, id int64) (model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, fmt.Errorf("routa %d: %w", id, store.ErrNotFound)
	}
	return copyRoute(r), nil
}

func (s *Store) CreateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.id()
	s.routes[r.ID] = copyRoute(r)
	return copyRoute(r), nil
}

func (s *Store) UpdateRoute(ctx context.Context, r model.Route) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.routes[r.ID]
	if !ok {
		return model.Route{}, fmt.Errorf("routa %d: %w", r.ID, store.ErrNotFound)
	}
	r.LastUpdated = old.LastUpdated
	s.routes[r.ID] = copyRoute(r)
	return copyRoute(r), nil
}

func (s *Store) DeleteRoute(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routes[id]; !ok {
		return fmt.Errorf("routa %d: %w", id, store.ErrNotFound)
	}
	delete(s.routes, id)
	return nil
}

func (s *Store) SetRouteLastUpdated(ctx context.Context, id int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[id]
	if !ok {
		return fmt.Errorf("routa %d: %w", id, store.ErrNotFound)
	}
	r.LastUpdated = summary
	s.routes[id] = r
	return nil
}

// --- procesy snímání ---

func copyProcess(p model.ImageProcess) model.ImageProcess {
	p.MethodArgs = maps.Clone(p.MethodArgs)
	p.UploadHeaders = maps.Clone(p.UploadHeaders)
	if p.LastExecution != nil {
		t := *p.LastExecution
		p.LastExecution = &t
	}
	return p
}

func (s *Store) ListProcesses(ctx context.Context) ([]model.ImageProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ImageProcess, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, copyProcess(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProcess(ctx context.Context, id int64) (model.ImageProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.processes[id]
	if !ok {
		return model.ImageProcess{}, fmt.Errorf("proces %d: %w", id, store.ErrNotFound)
	}
	return copyProcess(p), nil
}

func (s *Store) CreateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	p.ID = s.id()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.processes[p.ID] = copyProcess(p)
	return copyProcess(p), nil
}

func (s *Store) UpdateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.processes[p.ID]
	if !ok {
		return model.ImageProcess{}, fmt.Errorf("proces %d: %w", p.ID, store.ErrNotFound)
	}
	// Běhová data a čítače mění jen RecordExecution a SetProcessStatus.
	p.Status = old.Status
	p.LastExecution = old.LastExecution
	p.LastImage = old.LastImage
	p.LastUploadStatus = old.LastUploadStatus
	p.LastUploadError = old.LastUploadError
	p.UploadSuccessCount = old.UploadSuccessCount
	p.UploadFailureCount = old.UploadFailureCount
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.now().UTC()
	s.processes[p.ID] = copyProcess(p)
	return copyProcess(p), nil
}

func (s *Store) DeleteProcess(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processes[id]; !ok {
		return fmt.Errorf("proces %d: %w", id, store.ErrNotFound)
	}
	delete(s.processes, id)
	return nil
}

func (s *Store) SetProcessStatus(ctx context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[id]
	if !ok {
		return fmt.Errorf("proces %d: %w", id, store.ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = s.now().UTC()
	s.processes[id] = p
	return nil
}

func (s *Store) RecordExecution(ctx context.Context, id int64, exec model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[id]
	if !ok {
		return fmt.Errorf("proces %d: %w", id, store.ErrNotFound)
	}
	at := exec.At
	p.LastExecution = &at
	if exec.ObjectKey != "" {
		p.LastImage = exec.ObjectKey
	}
	p.LastUploadStatus = exec.UploadStatus
	p.LastUploadError = exec.UploadError
	switch exec.UploadStatus {
	case model.UploadSuccess:
		p.UploadSuccessCount++
	case model.UploadFailed:
		p.UploadFailureCount++
	}
	p.UpdatedAt = s.now().UTC()
	s.processes[id] = p
	return nil
}

// --- obrázky ---

func (s *Store) AddImage(ctx context.Context, img model.Image) (model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img.ID = s.id()
	img.Image = ""
	s.images = append(s.images, img)
	return img, nil
}

func (s *Store) ListImages(ctx context.Context) ([]model.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.images)
	for i := range out {
		if d, ok := s.devices[deviceIDOf(out[i].Device)]; ok && out[i].DeviceName == "" {
			out[i].DeviceName = d.Name
		}
	}
	model.SortImagesNewestFirst(out)
	return out, nil
}

func deviceIDOf(ref string) int64 {
	id, err := model.ParseDeviceRef(ref)
	if err != nil {
		return 0
	}
	return id
}

func (s *Store) DeleteImagesBefore(ctx context.Context, t time.Time) ([]model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []model.Image
	kept := s.images[:0]
	for _, img := range s.images {
		if img.Timestamp.Before(t) {
			removed = append(removed, img)
			continue
		}
		kept = append(kept, img)
	}
	s.images = kept
	return removed, nil
}

// --- účet konzole ---

func (s *Store) GetProfile(ctx context.Context, username string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return model.Profile{}, fmt.Errorf("uživatel %q: %w", username, store.ErrNotFound)
	}
	return a.profile, nil
}

func (s *Store) UpdateProfile(ctx context.Context, username string, u model.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return fmt.Errorf("uživatel %q: %w", username, store.ErrNotFound)
	}
	a.profile.Name = u.Name
	a.profile.Email = u.Email
	a.profile.Company = u.Company
	s.accounts[username] = a
	return nil
}

func (s *Store) UpdateContact(ctx context.Context, username string, c model.ContactUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return fmt.Errorf("uživatel %q: %w", username, store.ErrNotFound)
	}
	a.profile.Address = c.Address
	a.profile.City = c.City
	a.profile.Country = c.Country
	s.accounts[username] = a
	return nil
}

func (s *Store) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return nil, fmt.Errorf("uživatel %q: %w", username, store.ErrNotFound)
	}
	return slices.Clone(a.hash), nil
}

func (s *Store) SetPasswordHash(ctx context.Context, username string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return fmt.Errorf("uživatel %q: %w", username, store.ErrNotFound)
	}
	a.hash = slices.Clone(hash)
	s.accounts[username] = a
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, username string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; ok {
		return nil
	}
	s.accounts[username] = account{
		profile: model.Profile{Username: username},
		hash:    slices.Clone(hash),
	}
	return nil
}
