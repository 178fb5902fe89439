package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/display"
	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/profile"
	"github.com/dougsko/k5link/pkg/protocol"
	"github.com/dougsko/k5link/pkg/session"
	"github.com/dougsko/k5link/pkg/storage"
)

func respond(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, protocol.NewSuccessResponse(data))
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, protocol.NewErrorResponse(err.Error()))
}

// statusFor maps daemon and library errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errTransferRunning), errors.Is(err, errScreencastRunning), errors.Is(err, session.ErrPaused):
		return http.StatusConflict
	case errors.Is(err, storage.ErrSnapshotNotFound), errors.Is(err, profile.ErrUnknownProfile):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrHandshakeTimeout), errors.Is(err, session.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleGetStatus returns daemon status
func (d *K5Daemon) handleGetStatus(c *gin.Context) {
	d.mu.RLock()
	status := protocol.Status{
		Connected:  d.identity != nil,
		Device:     d.config.Serial.Device,
		Screencast: d.screencast,
		Transfer:   d.transfer.State,
		Uptime:     time.Since(d.startTime).Truncate(time.Second).String(),
		StartTime:  d.startTime,
		Version:    Version,
	}
	if d.identity != nil {
		status.Firmware = d.identity.Firmware
	}
	d.mu.RUnlock()

	if _, ok := d.session.(*session.MockSession); ok {
		status.Device = "mock"
	}
	if p := d.radio.Active(); p != nil {
		status.Profile = p.ID()
	}

	respond(c, status)
}

// handleGetProfiles lists the registered profiles
func (d *K5Daemon) handleGetProfiles(c *gin.Context) {
	active := d.radio.Active()
	profiles := d.radio.Profiles()

	infos := make([]protocol.ProfileInfo, 0, len(profiles))
	for _, p := range profiles {
		infos = append(infos, protocol.NewProfileInfo(p, active != nil && active.ID() == p.ID()))
	}
	respond(c, infos)
}

// handleSetProfile selects the active profile
func (d *K5Daemon) handleSetProfile(c *gin.Context) {
	var req protocol.ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	d.mu.RLock()
	busy := d.transfer.Running() || d.screencast
	d.mu.RUnlock()
	if busy {
		fail(c, http.StatusConflict, errors.New("cannot change profile during a transfer or screencast"))
		return
	}

	p, err := d.radio.SetActiveByID(req.ID)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	respond(c, protocol.NewProfileInfo(p, true))
}

// handleGetTelemetry reads and decodes the battery report
func (d *K5Daemon) handleGetTelemetry(c *gin.Context) {
	source, ok := d.session.(session.TelemetrySource)
	if !ok {
		fail(c, http.StatusNotImplemented, errors.New("session does not report telemetry"))
		return
	}
	p := d.radio.Active()
	if p == nil {
		fail(c, http.StatusConflict, errNoProfile)
		return
	}

	d.mu.RLock()
	busy := d.transfer.Running() || d.screencast
	d.mu.RUnlock()
	if busy {
		fail(c, http.StatusConflict, errors.New("radio is busy"))
		return
	}

	identity, err := d.identify(c.Request.Context())
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	raw, err := source.ReadTelemetry(c.Request.Context(), identity.Timestamp)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	t, err := p.DecodeTelemetry(raw)
	if err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	respond(c, t)
}

// handleReadChannels starts a background channel read
func (d *K5Daemon) handleReadChannels(c *gin.Context) {
	var req protocol.ReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	p, err := d.beginTransfer(protocol.TransferReading)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}

	d.wg.Add(1)
	go d.runRead(p, req.Name)

	c.JSON(http.StatusAccepted, protocol.NewSuccessResponse(d.transferState()))
}

// handleWriteChannels starts a background write of a snapshot or of the
// channels in the request body
func (d *K5Daemon) handleWriteChannels(c *gin.Context) {
	var req protocol.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	channels := req.Channels
	if req.SnapshotID != 0 {
		snap, err := d.store.GetSnapshot(req.SnapshotID)
		if err != nil {
			fail(c, statusFor(err), err)
			return
		}
		channels = snap.Channels
	}
	if len(channels) == 0 {
		fail(c, http.StatusBadRequest, errors.New("snapshot_id or channels required"))
		return
	}

	p, err := d.beginTransfer(protocol.TransferWriting)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}

	d.wg.Add(1)
	go d.runWrite(p, req.SnapshotID, channels)

	c.JSON(http.StatusAccepted, protocol.NewSuccessResponse(d.transferState()))
}

// handleGetTransfer reports the running or last transfer
func (d *K5Daemon) handleGetTransfer(c *gin.Context) {
	respond(c, d.transferState())
}

// handleGetSnapshots lists stored snapshots
func (d *K5Daemon) handleGetSnapshots(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}

	snapshots, err := d.store.ListSnapshots(storage.SnapshotQuery{
		Limit:     limit,
		Offset:    offset,
		ProfileID: c.Query("profile"),
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	respond(c, snapshots)
}

func snapshotID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, errors.New("invalid snapshot id"))
		return 0, false
	}
	return id, true
}

// handleGetSnapshot returns one snapshot with its channels
func (d *K5Daemon) handleGetSnapshot(c *gin.Context) {
	id, ok := snapshotID(c)
	if !ok {
		return
	}
	snap, err := d.store.GetSnapshot(id)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	respond(c, snap)
}

// handleDeleteSnapshot removes a snapshot
func (d *K5Daemon) handleDeleteSnapshot(c *gin.Context) {
	id, ok := snapshotID(c)
	if !ok {
		return
	}
	if err := d.store.DeleteSnapshot(id); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	respond(c, gin.H{"deleted": id})
}

// handleGetScreencast reports the display mirror state
func (d *K5Daemon) handleGetScreencast(c *gin.Context) {
	respond(c, d.screencastState())
}

// handleScreencast starts or stops the display mirror
func (d *K5Daemon) handleScreencast(c *gin.Context) {
	switch c.Param("action") {
	case "start":
		if err := d.startScreencast(); err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				status = http.StatusConflict
			}
			fail(c, status, err)
			return
		}
	case "stop":
		d.stopScreencast()
	default:
		fail(c, http.StatusBadRequest, errors.New("action must be start or stop"))
		return
	}
	respond(c, d.screencastState())
}

// handleGetSerialPorts lists serial ports the radio cable may be on
func (d *K5Daemon) handleGetSerialPorts(c *gin.Context) {
	ports, err := serial.GetPortsList()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	respond(c, gin.H{"serial_ports": ports})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleScreenWebSocket streams the display: framebuffers as binary
// messages, stats and status as JSON text messages
func (d *K5Daemon) handleScreenWebSocket(c *gin.Context) {
	log := logging.For("web")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := d.display.Subscribe()
	defer unsubscribe()

	log.Info("Screen WebSocket client connected")

	if err := conn.WriteMessage(websocket.BinaryMessage, d.display.Framebuffer()); err != nil {
		return
	}

	// Reading is only needed to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Debugf("WebSocket write error: %v", err)
				return
			}
		case <-closed:
			log.Info("Screen WebSocket client disconnected")
			return
		case <-d.ctx.Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev display.Event) error {
	switch ev.Kind {
	case display.EventFrame:
		return conn.WriteMessage(websocket.BinaryMessage, ev.Framebuffer)
	case display.EventStats:
		return conn.WriteJSON(protocol.WSMessage{Type: protocol.WSStats, Data: ev.Stats})
	case display.EventStatus:
		msg := protocol.WSMessage{Type: protocol.WSStatus, Status: string(ev.Status)}
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
		return conn.WriteJSON(msg)
	}
	return nil
}
