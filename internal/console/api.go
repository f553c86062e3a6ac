package console

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jola2802/iot-gateway-sub000/internal/auth"
	"github.com/jola2802/iot-gateway-sub000/internal/history"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
)

// LiveHandlers jsou WebSocket endpointy telemetrie. Autorizují se tokenem, ne session.
type LiveHandlers struct {
	DeviceData http.Handler
	Dashboard  http.Handler
}

// APIHandler sdružuje HTTP handlery konzole.
type APIHandler struct {
	svc      *Service
	sessions *auth.Sessions
	limiter  *auth.Limiter
	live     LiveHandlers
	logger   *slog.Logger
}

// NewAPIHandler vytvoří handler. limiter může být nil (bez omezení pokusů).
func NewAPIHandler(svc *Service, sessions *auth.Sessions, limiter *auth.Limiter, live LiveHandlers, logger *slog.Logger) *APIHandler {
	return &APIHandler{svc: svc, sessions: sessions, limiter: limiter, live: live, logger: logger}
}

// RegisterRoutes mapuje cesty konzole. Vše pod /api kromě WebSocketů vyžaduje session.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("GET /logout", h.handleLogout)
	mux.HandleFunc("POST /logout", h.handleLogout)

	if h.live.DeviceData != nil {
		mux.Handle("GET /api/deviceData", h.live.DeviceData)
		mux.Handle("GET /api/ws-device-data", h.live.DeviceData)
	}
	if h.live.Dashboard != nil {
		mux.Handle("GET /api/dashboardData", h.live.Dashboard)
		mux.Handle("GET /api/ws-broker-status", h.live.Dashboard)
	}

	p := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.sessions.Require(fn))
	}

	// Broker
	p("GET /api/getBrokerUsers", h.handleListBrokerUsers)
	p("GET /api/getBrokerUser/{username}", h.handleGetBrokerUser)
	p("GET /api/getBrokerLogin", h.handleBrokerLogin)
	p("POST /api/add-broker-user", h.handleSaveBrokerUser)
	p("DELETE /api/delete-broker-user/{username}", h.handleDeleteBrokerUser)

	// Zařízení
	p("GET /api/getDevices", h.handleListDevices)
	p("GET /api/getDevice/{id}", h.handleGetDevice)
	p("GET /api/get-devices-for-routes", h.handleDeviceRefs)
	p("POST /api/device/{id}", h.handlePostDevice)
	p("PUT /api/device/{id}", h.handleUpdateDevice)
	p("DELETE /api/device/{id}", h.handleDeleteDevice)
	p("POST /api/add-device", h.handleCreateDevice)
	p("POST /api/update-device/{id}", h.handleUpdateDevice)
	p("PUT /api/update-device/{id}", h.handleUpdateDevice)
	p("DELETE /api/delete-device/{id}", h.handleDeleteDevice)
	p("POST /api/restart-device/{id}", h.handleRestartDevice)

	// Routy
	p("GET /getDataForwarding", h.handleListRoutes)
	p("GET /api/get-routes", h.handleListRoutes)
	p("GET /api/route/{id}", h.handleGetRoute)
	p("PUT /api/route/{id}", h.handleUpdateRoute)
	p("DELETE /api/route/{id}", h.handleDeleteRoute)
	p("POST /api/add-route", h.handleCreateRoute)

	// Snímání obrázků
	p("GET /api/browse-nodes/{id}", h.handleBrowseNodes)
	p("GET /api/image-capture-processes", h.handleListProcesses)
	p("POST /api/image-capture-processes", h.handleCreateProcess)
	p("GET /api/image-capture-processes/{id}", h.handleGetProcess)
	p("PUT /api/image-capture-processes/{id}", h.handleUpdateProcess)
	p("DELETE /api/image-capture-processes/{id}", h.handleDeleteProcess)
	p("POST /api/image-capture-processes/{id}/start", h.handleStartProcess)
	p("POST /api/image-capture-processes/{id}/stop", h.handleStopProcess)
	p("POST /api/image-capture-processes/{id}/execute", h.handleExecuteProcess)
	p("GET /api/images", h.handleListImages)
	p("POST /api/images", h.handleAddImage)
	p("GET /api/images/download", h.handleDownloadImages)
	p("GET /api/list-captured-images", h.handleListImageMeta)

	// Historie
	p("POST /api/query-data", h.handleQueryData)
	p("POST /api/get-measurements", h.handleMeasurements)

	// Účet
	p("GET /api/profile", h.handleGetProfile)
	p("PUT /api/profile", h.handleUpdateProfile)
	p("POST /api/profile", h.handleUpdateProfile)
	p("PUT /api/profile/contact", h.handleUpdateContact)
	p("PUT /api/changePassword", h.handleChangePassword)
	p("POST /api/changePassword", h.handleChangePassword)
	p("GET /api/ws-token", h.handleWSToken)
}

type message struct {
	Message string `json:"message"`
}

// --- přihlášení ---

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin: POST /login, tělo JSON nebo formulář username/password.
func (h *APIHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := auth.ClientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		h.logger.Warn("Příliš mnoho pokusů o přihlášení", "ip", ip)
		http.Error(w, "Příliš mnoho pokusů, zkuste to později", http.StatusTooManyRequests)
		return
	}

	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decode(w, r, &c); err != nil {
			h.writeError(w, r, err)
			return
		}
	} else {
		c.Username = r.FormValue("username")
		c.Password = r.FormValue("password")
	}

	if err := h.svc.Login(r.Context(), c.Username, c.Password); err != nil {
		h.logger.Warn("Neúspěšné přihlášení", "username", c.Username, "ip", ip)
		h.writeError(w, r, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Reset(ip)
	}
	if err := h.sessions.Issue(w, c.Username); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Uživatel přihlášen", "username", c.Username, "ip", ip)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Přihlášení úspěšné", "username": c.Username})
}

func (h *APIHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	h.writeJSON(w, http.StatusOK, message{Message: "Odhlášeno"})
}

// --- broker ---

func (h *APIHandler) handleListBrokerUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListBrokerUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *APIHandler) handleGetBrokerUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetBrokerUser(r.Context(), r.PathValue("username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *APIHandler) handleBrokerLogin(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	login, err := h.svc.BrokerLogin(r.Context(), host)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, login)
}

func (h *APIHandler) handleSaveBrokerUser(w http.ResponseWriter, r *http.Request) {
	var u model.BrokerUser
	if err := decode(w, r, &u); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.SaveBrokerUser(r.Context(), u); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Uživatel uložen", "username": u.Username})
}

func (h *APIHandler) handleDeleteBrokerUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := h.svc.DeleteBrokerUser(r.Context(), username); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Uživatel smazán", "username": username})
}

// --- zařízení ---

func (h *APIHandler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.ListDevices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (h *APIHandler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.GetDevice(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"device": d})
}

func (h *APIHandler) handleDeviceRefs(w http.ResponseWriter, r *http.Request) {
	refs, err := h.svc.DeviceRefs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"devices": refs})
}

// handlePostDevice: POST /api/device/{id}. ID 0 nebo "new" zakládá, jinak aktualizuje.
func (h *APIHandler) handlePostDevice(w http.ResponseWriter, r *http.Request) {
	if raw := r.PathValue("id"); raw == "new" || raw == "0" {
		h.handleCreateDevice(w, r)
		return
	}
	h.handleUpdateDevice(w, r)
}

func (h *APIHandler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d model.Device
	if err := decode(w, r, &d); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.svc.SaveDevice(r.Context(), 0, d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"id": saved.ID, "device": saved, "message": "Zařízení vytvořeno"})
}

func (h *APIHandler) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var d model.Device
	if err := decode(w, r, &d); err != nil {
		h.writeError(w, r, err)
		return
	}
	if id == 0 {
		id = d.ID
	}
	if id == 0 {
		h.writeError(w, r, fmt.Errorf("%w: chybí ID zařízení", model.ErrInvalid))
		return
	}
	saved, err := h.svc.SaveDevice(r.Context(), id, d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": saved.ID, "device": saved, "message": "Zařízení uloženo"})
}

func (h *APIHandler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteDevice(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Zařízení smazáno"})
}

func (h *APIHandler) handleRestartDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.RestartDevice(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Restart zařízení odeslán"})
}

func (h *APIHandler) handleBrowseNodes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	nodes, err := h.svc.BrowseNodes(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// --- routy ---

func (h *APIHandler) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.svc.ListRoutes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (h *APIHandler) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	route, err := h.svc.GetRoute(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, route)
}

func (h *APIHandler) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var route model.Route
	if err := decode(w, r, &route); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.svc.CreateRoute(r.Context(), route)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"id": created.ID, "message": "Routa vytvořena"})
}

func (h *APIHandler) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var route model.Route
	if err := decode(w, r, &route); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.svc.UpdateRoute(r.Context(), id, route)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *APIHandler) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteRoute(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Routa smazána"})
}

// --- procesy snímání ---

func (h *APIHandler) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := h.svc.ListProcesses(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"processes": processes})
}

func (h *APIHandler) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.GetProcess(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"process": p})
}

func (h *APIHandler) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var p model.ImageProcess
	if err := decode(w, r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.svc.CreateProcess(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"process": created, "message": "Proces vytvořen"})
}

func (h *APIHandler) handleUpdateProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p model.ImageProcess
	if err := decode(w, r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.svc.UpdateProcess(r.Context(), id, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"process": updated, "message": "Proces aktualizován"})
}

func (h *APIHandler) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteProcess(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Proces smazán"})
}

func (h *APIHandler) handleStartProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.StartProcess(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Proces spuštěn"})
}

func (h *APIHandler) handleStopProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.StopProcess(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Proces zastaven"})
}

func (h *APIHandler) handleExecuteProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	exec, err := h.svc.ExecuteProcess(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, exec)
}

// --- snímky ---

func (h *APIHandler) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.svc.ListImages(r.Context(), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, images)
}

func (h *APIHandler) handleListImageMeta(w http.ResponseWriter, r *http.Request) {
	images, err := h.svc.ListImages(r.Context(), false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (h *APIHandler) handleAddImage(w http.ResponseWriter, r *http.Request) {
	var up ImageUpload
	if err := decode(w, r, &up); err != nil {
		h.writeError(w, r, err)
		return
	}
	img, err := h.svc.AddImage(r.Context(), up)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"id": img.ID, "message": "Snímek uložen"})
}

func (h *APIHandler) handleDownloadImages(w http.ResponseWriter, r *http.Request) {
	archive, err := h.svc.ImagesArchive(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="images.zip"`)
	if _, err := w.Write(archive); err != nil {
		h.logger.Warn("Přenos archivu přerušen", "error", err)
	}
}

// --- historie ---

func (h *APIHandler) handleQueryData(w http.ResponseWriter, r *http.Request) {
	var req history.Request
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	samples, err := h.svc.QueryData(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, samples)
}

func (h *APIHandler) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID json.Number `json:"deviceId"`
	}
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	names, err := h.svc.Measurements(r.Context(), req.DeviceID.String())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"measurements": names})
}

// --- účet ---

// currentUser vrací přihlášeného uživatele. Require ho do kontextu vloží vždy.
func currentUser(r *http.Request) (string, error) {
	u, ok := auth.UserFrom(r.Context())
	if !ok {
		return "", auth.ErrNoSession
	}
	return u, nil
}

func (h *APIHandler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	profile, err := h.svc.Profile(r.Context(), user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *APIHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var u model.ProfileUpdate
	if err := decode(w, r, &u); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.UpdateProfile(r.Context(), user, u); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Profil uložen"})
}

func (h *APIHandler) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var c model.ContactUpdate
	if err := decode(w, r, &c); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.UpdateContact(r.Context(), user, c); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Kontakt uložen"})
}

func (h *APIHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var c model.PasswordChange
	if err := decode(w, r, &c); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), user, c); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, message{Message: "Heslo změněno"})
}

func (h *APIHandler) handleWSToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.svc.IssueWSToken(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
