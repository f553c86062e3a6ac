package console

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/capture"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// ZipTimeLayout je formát času v názvech souborů archivu snímků.
const ZipTimeLayout = "2006-01-02_15-04-05"

// browseTimeout omezuje procházení velkých serverů.
const browseTimeout = 30 * time.Second

// BrowseNodes vrací proměnné OPC-UA zařízení pro výběr uzlů procesu snímání.
func (s *Service) BrowseNodes(ctx context.Context, deviceID int64) ([]capture.Node, error) {
	dev, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Type != model.DeviceOPCUA {
		return nil, fmt.Errorf("%w: procházet lze jen OPC-UA zařízení", model.ErrInvalid)
	}
	if s.browser == nil {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()
	nodes, err := s.browser.Browse(ctx, dev)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []capture.Node{}
	}
	return nodes, nil
}

// --- procesy snímání ---

func (s *Service) ListProcesses(ctx context.Context) ([]model.ImageProcess, error) {
	return s.store.ListProcesses(ctx)
}

func (s *Service) GetProcess(ctx context.Context, id int64) (model.ImageProcess, error) {
	return s.store.GetProcess(ctx, id)
}

// prepareProcess doplní výchozí hodnoty a údaje ze zařízení.
func (s *Service) prepareProcess(ctx context.Context, p *model.ImageProcess) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	dev, err := s.store.GetDevice(ctx, p.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: zařízení %d neexistuje", model.ErrInvalid, p.DeviceID)
		}
		return err
	}
	if dev.Type != model.DeviceOPCUA {
		return fmt.Errorf("%w: snímání podporuje jen OPC-UA zařízení", model.ErrInvalid)
	}
	p.DeviceName = dev.Name
	if strings.TrimSpace(p.Endpoint) == "" {
		p.Endpoint = dev.Address
	}
	return nil
}

// CreateProcess uloží nový proces ve stavu stopped.
func (s *Service) CreateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error) {
	p.ID = 0
	p.Status = model.ProcessStopped
	if err := s.prepareProcess(ctx, &p); err != nil {
		return model.ImageProcess{}, err
	}
	created, err := s.store.CreateProcess(ctx, p)
	if err != nil {
		return model.ImageProcess{}, err
	}
	s.logger.Info("Proces snímání vytvořen", "process_id", created.ID, "name", created.Name)
	return created, nil
}

// UpdateProcess přepíše konfiguraci. Běžící proces se restartuje s novou konfigurací.
func (s *Service) UpdateProcess(ctx context.Context, id int64, p model.ImageProcess) (model.ImageProcess, error) {
	p.ID = id
	if err := s.prepareProcess(ctx, &p); err != nil {
		return model.ImageProcess{}, err
	}
	updated, err := s.store.UpdateProcess(ctx, p)
	if err != nil {
		return model.ImageProcess{}, err
	}
	if s.capture != nil && s.capture.Running(id) {
		if err := s.capture.Stop(ctx, id); err != nil {
			return updated, err
		}
		if err := s.capture.Start(ctx, id); err != nil {
			return updated, err
		}
		updated.Status = model.ProcessRunning
	}
	return updated, nil
}

// DeleteProcess zastaví běžící proces a smaže ho.
func (s *Service) DeleteProcess(ctx context.Context, id int64) error {
	if _, err := s.store.GetProcess(ctx, id); err != nil {
		return err
	}
	if s.capture != nil && s.capture.Running(id) {
		if err := s.capture.Stop(ctx, id); err != nil && !errors.Is(err, capture.ErrNotRunning) {
			return err
		}
	}
	return s.store.DeleteProcess(ctx, id)
}

func (s *Service) StartProcess(ctx context.Context, id int64) error {
	if s.capture == nil {
		return ErrUnavailable
	}
	return s.capture.Start(ctx, id)
}

func (s *Service) StopProcess(ctx context.Context, id int64) error {
	if s.capture == nil {
		return ErrUnavailable
	}
	return s.capture.Stop(ctx, id)
}

// ExecuteProcess provede jedno snímání hned.
func (s *Service) ExecuteProcess(ctx context.Context, id int64) (model.Execution, error) {
	if s.capture == nil {
		return model.Execution{}, ErrUnavailable
	}
	return s.capture.Execute(ctx, id)
}

// --- snímky ---

// ListImages vrací snímky od nejnovějšího. S withData obsahuje každý snímek base64 PNG.
// Před výpisem se smažou snímky starší než retenční okno.
func (s *Service) ListImages(ctx context.Context, withData bool) ([]model.Image, error) {
	if s.capture != nil {
		s.capture.Prune(ctx)
	}
	images, err := s.store.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	model.SortImagesNewestFirst(images)
	if !withData {
		return images, nil
	}
	if s.blobs == nil {
		return nil, ErrUnavailable
	}

	out := images[:0]
	for _, img := range images {
		data, err := s.blobs.Get(ctx, img.ObjectKey)
		if err != nil {
			s.logger.Warn("Data snímku chybí", "image_id", img.ID, "key", img.ObjectKey, "error", err)
			continue
		}
		img.Image = base64.StdEncoding.EncodeToString(data)
		out = append(out, img)
	}
	return out, nil
}

// ImageUpload je tělo POST /api/images.
type ImageUpload struct {
	Image     string    `json:"image"`
	DeviceID  int64     `json:"device_id"`
	ProcessID int64     `json:"process_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeImage přijme čistý base64 i data URL (data:image/png;base64,...).
func DecodeImage(s string) ([]byte, error) {
	if _, payload, ok := strings.Cut(s, ";base64,"); ok && strings.HasPrefix(s, "data:") {
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: image musí být neprázdný base64", model.ErrInvalid)
	}
	return data, nil
}

// AddImage uloží snímek pořízený mimo bránu.
func (s *Service) AddImage(ctx context.Context, up ImageUpload) (model.Image, error) {
	if s.blobs == nil {
		return model.Image{}, ErrUnavailable
	}
	data, err := DecodeImage(up.Image)
	if err != nil {
		return model.Image{}, err
	}
	dev, err := s.store.GetDevice(ctx, up.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Image{}, fmt.Errorf("%w: zařízení %d neexistuje", model.ErrInvalid, up.DeviceID)
		}
		return model.Image{}, err
	}
	ts := up.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC()

	device := strconv.FormatInt(dev.ID, 10)
	key := imagestore.ObjectKey(device, ts)
	if err := s.blobs.Put(ctx, key, data, "image/png"); err != nil {
		return model.Image{}, err
	}
	return s.store.AddImage(ctx, model.Image{
		Device:     device,
		DeviceName: dev.Name,
		ProcessID:  up.ProcessID,
		Timestamp:  ts,
		ObjectKey:  key,
		Size:       int64(len(data)),
	})
}

// ZipName vrací název souboru snímku v archivu: <zařízení>_<čas>_<id>.png
func ZipName(img model.Image) string {
	name := img.DeviceName
	if name == "" {
		name = img.Device
	}
	name = strings.NewReplacer("/", "_", `\`, "_", " ", "_").Replace(name)
	return fmt.Sprintf("%s_%s_%d.png", name, img.Timestamp.UTC().Format(ZipTimeLayout), img.ID)
}

// ImagesArchive sestaví zip se všemi snímky. Bez snímků vrací store.ErrNotFound.
func (s *Service) ImagesArchive(ctx context.Context) ([]byte, error) {
	images, err := s.ListImages(ctx, false)
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, ErrUnavailable
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	written := 0
	for _, img := range images {
		data, err := s.blobs.Get(ctx, img.ObjectKey)
		if err != nil {
			s.logger.Warn("Data snímku chybí, vynechávám", "image_id", img.ID, "error", err)
			continue
		}
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     ZipName(img),
			Method:   zip.Store,
			Modified: img.Timestamp,
		})
		if err != nil {
			return nil, fmt.Errorf("nelze zapsat do archivu: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			return nil, fmt.Errorf("nelze zapsat do archivu: %w", err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("nelze uzavřít archiv: %w", err)
	}
	if written == 0 {
		return nil, fmt.Errorf("žádné snímky: %w", store.ErrNotFound)
	}
	return buf.Bytes(), nil
}
