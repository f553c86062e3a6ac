// Package store definuje úložiště konfigurace brány (zařízení, uživatelé brokeru,
// routy, procesy snímání, obrázky, účet konzole). Implementace jsou v podbalíčcích
// postgres (produkce) a memory (testy a lokální vývoj).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

var (
	// ErrNotFound vrací každá metoda, která nenašla požadovaný záznam.
	ErrNotFound = errors.New("záznam nenalezen")
	// ErrConflict označuje porušení unikátnosti (např. duplicitní název zařízení).
	ErrConflict = errors.New("záznam již existuje")
)

// Devices spravuje zařízení a jejich datapointy.
type Devices interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	GetDevice(ctx context.Context, id int64) (model.Device, error)
	CreateDevice(ctx context.Context, d model.Device) (model.Device, error)
	UpdateDevice(ctx context.Context, d model.Device) (model.Device, error)
	DeleteDevice(ctx context.Context, id int64) error
	SetDeviceStatus(ctx context.Context, id int64, status string) error
}

// BrokerUsers spravuje přihlašovací údaje a ACL interního brokeru.
type BrokerUsers interface {
	ListBrokerUsers(ctx context.Context) ([]model.BrokerUser, error)
	GetBrokerUser(ctx context.Context, username string) (model.BrokerUser, error)
	// SaveBrokerUser nahradí uživatele včetně všech jeho ACL.
	SaveBrokerUser(ctx context.Context, u model.BrokerUser) error
	DeleteBrokerUser(ctx context.Context, username string) error
}

// Routes spravuje routy přeposílání dat.
type Routes interface {
	ListRoutes(ctx context.Context) ([]model.Route, error)
	GetRoute(ctx context.Context, id int64) (model.Route, error)
	CreateRoute(ctx context.Context, r model.Route) (model.Route, error)
	UpdateRoute(ctx context.Context, r model.Route) (model.Route, error)
	DeleteRoute(ctx context.Context, id int64) error
	SetRouteLastUpdated(ctx context.Context, id int64, summary string) error
}

// Processes spravuje procesy snímání obrázků.
type Processes interface {
	ListProcesses(ctx context.Context) ([]model.ImageProcess, error)
	GetProcess(ctx context.Context, id int64) (model.ImageProcess, error)
	CreateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error)
	UpdateProcess(ctx context.Context, p model.ImageProcess) (model.ImageProcess, error)
	DeleteProcess(ctx context.Context, id int64) error
	SetProcessStatus(ctx context.Context, id int64, status string) error
	RecordExecution(ctx context.Context, id int64, exec model.Execution) error
}

// Images drží metadata snímků. Data obrázků jsou v objektovém úložišti.
type Images interface {
	AddImage(ctx context.Context, img model.Image) (model.Image, error)
	ListImages(ctx context.Context) ([]model.Image, error)
	// DeleteImagesBefore smaže metadata starší než t a vrátí smazané záznamy.
	DeleteImagesBefore(ctx context.Context, t time.Time) ([]model.Image, error)
}

// Users spravuje účet konzole.
type Users interface {
	GetProfile(ctx context.Context, username string) (model.Profile, error)
	UpdateProfile(ctx context.Context, username string, u model.ProfileUpdate) error
	UpdateContact(ctx context.Context, username string, c model.ContactUpdate) error
	PasswordHash(ctx context.Context, username string) ([]byte, error)
	SetPasswordHash(ctx context.Context, username string, hash []byte) error
	// EnsureUser založí uživatele s daným hashem, pokud ještě neexistuje.
	EnsureUser(ctx context.Context, username string, hash []byte) error
}

// Store sdružuje všechna úložiště.
type Store interface {
	Devices
	BrokerUsers
	Routes
	Processes
	Images
	Users
	Close()
}
