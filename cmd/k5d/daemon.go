package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/config"
	"github.com/dougsko/k5link/pkg/display"
	"github.com/dougsko/k5link/pkg/frame"
	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/memory"
	"github.com/dougsko/k5link/pkg/profile"
	"github.com/dougsko/k5link/pkg/protocol"
	"github.com/dougsko/k5link/pkg/session"
	"github.com/dougsko/k5link/pkg/storage"
)

var (
	errTransferRunning   = errors.New("a channel transfer is already running")
	errScreencastRunning = errors.New("screencast is active")
	errNoProfile         = errors.New("no active profile")
)

const screencastCheckInterval = time.Second

// K5Daemon owns the radio session and serves the REST API
type K5Daemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.ComponentLogger

	startTime time.Time
	radio     *profile.RadioContext
	session   session.Session
	closer    io.Closer
	store     *storage.SnapshotStore
	display   *display.Engine

	mu         sync.RWMutex
	identity   *session.Identity
	transfer   protocol.TransferProgress
	screencast bool

	router    *gin.Engine
	webServer *http.Server
}

// NewK5Daemon creates a daemon around an open session. closer, if non-nil,
// is closed on Stop.
func NewK5Daemon(cfg *config.Config, sess session.Session, closer io.Closer) (*K5Daemon, error) {
	store, err := storage.NewSnapshotStore(cfg.Storage.DatabasePath, cfg.Storage.MaxSnapshots)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &K5Daemon{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		log:       logging.For("daemon"),
		startTime: time.Now(),
		radio:     profile.NewRadioContext(profile.Builtin()...),
		session:   sess,
		closer:    closer,
		store:     store,
		transfer:  protocol.TransferProgress{State: protocol.TransferIdle},
		display: display.NewEngine(display.Config{
			KeepaliveInterval: cfg.KeepaliveInterval(),
			StatsWindow:       cfg.StatsWindow(),
			SubscriberBuffer:  cfg.Display.SubscriberBuffer,
			Parser: frame.ParserConfig{
				BufferSize:     cfg.Display.RingBufferSize,
				StrictChecksum: cfg.Display.StrictChecksum,
			},
		}),
	}

	d.setupWebServer()
	return d, nil
}

// Start identifies the radio, selects a profile and starts serving
func (d *K5Daemon) Start() error {
	d.log.Info("Starting k5d daemon...")

	identity, err := d.session.Identify(d.ctx)
	if err != nil {
		return fmt.Errorf("failed to identify radio: %w", err)
	}
	if err := d.selectProfile(identity); err != nil {
		return err
	}

	events, unsubscribe := d.display.Subscribe()
	d.wg.Add(1)
	go d.watchDisplay(events, unsubscribe)

	if mock, ok := d.session.(*session.MockSession); ok {
		d.wg.Add(1)
		go d.mockScreen(mock)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.log.Infof("Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.log.Errorf("Web server error: %v", err)
		}
	}()

	return nil
}

// selectProfile applies the forced profile, or detects one from the
// firmware string and falls back to stock
func (d *K5Daemon) selectProfile(identity *session.Identity) error {
	d.mu.Lock()
	d.identity = identity
	d.mu.Unlock()

	if force := d.config.Profile.Force; force != "" {
		p, err := d.radio.SetActiveByID(force)
		if err != nil {
			return fmt.Errorf("failed to force profile: %w", err)
		}
		d.log.Info("Profile forced by configuration", map[string]interface{}{"profile": p.ID()})
		return nil
	}

	if identity == nil {
		d.log.Warn("Radio did not identify, assuming stock firmware")
		d.radio.SetActive(d.radio.DetectOrDefault(""))
		return nil
	}

	p := d.radio.DetectOrDefault(identity.Firmware)
	d.radio.SetActive(p)
	d.log.Info("Radio identified", map[string]interface{}{
		"firmware": identity.Firmware,
		"profile":  p.ID(),
	})
	return nil
}

// Stop stops the daemon gracefully
func (d *K5Daemon) Stop() error {
	d.log.Info("Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			d.log.Errorf("Web server shutdown error: %v", err)
		}
	}

	d.stopScreencast()
	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		d.log.Errorf("Snapshot store close error: %v", err)
	}
	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			d.log.Errorf("Session close error: %v", err)
		}
	}

	d.log.Info("Daemon stopped")
	return nil
}

// setupWebServer initializes the web server and routes
func (d *K5Daemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/profiles", d.handleGetProfiles)
		api.PUT("/profile", d.handleSetProfile)
		api.GET("/telemetry", d.handleGetTelemetry)
		api.POST("/channels/read", d.handleReadChannels)
		api.POST("/channels/write", d.handleWriteChannels)
		api.GET("/transfer", d.handleGetTransfer)
		api.GET("/snapshots", d.handleGetSnapshots)
		api.GET("/snapshots/:id", d.handleGetSnapshot)
		api.DELETE("/snapshots/:id", d.handleDeleteSnapshot)
		api.GET("/screencast", d.handleGetScreencast)
		api.POST("/screencast/:action", d.handleScreencast)
		api.GET("/serial/ports", d.handleGetSerialPorts)
	}

	router.GET("/ws/screen", d.handleScreenWebSocket)

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}
}

// requestLogger logs each request through the component logger
func requestLogger() gin.HandlerFunc {
	log := logging.For("web")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}

// beginTransfer claims the session for a channel transfer
func (d *K5Daemon) beginTransfer(state string) (profile.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transfer.Running() {
		return nil, errTransferRunning
	}
	if d.screencast {
		return nil, errScreencastRunning
	}
	p := d.radio.Active()
	if p == nil {
		return nil, errNoProfile
	}
	d.transfer = protocol.TransferProgress{
		State:     state,
		StartedAt: time.Now(),
	}
	return p, nil
}

func (d *K5Daemon) setProgress(percent float64) {
	d.mu.Lock()
	d.transfer.Percent = percent
	d.mu.Unlock()
}

func (d *K5Daemon) finishTransfer(channels int, snapshotID int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.transfer.Channels = channels
	d.transfer.SnapshotID = snapshotID
	d.transfer.FinishedAt = time.Now()
	if err != nil {
		d.transfer.State = protocol.TransferFailed
		d.transfer.Error = err.Error()
		d.log.Error("Transfer failed", map[string]interface{}{"error": err.Error()})
		return
	}
	d.transfer.State = protocol.TransferDone
	d.transfer.Percent = 100
	d.log.Info("Transfer complete", map[string]interface{}{
		"channels": channels,
		"snapshot": snapshotID,
	})
}

func (d *K5Daemon) transferState() protocol.TransferProgress {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.transfer
}

// runRead reads the channel table and stores it as a snapshot
func (d *K5Daemon) runRead(p profile.Profile, name string) {
	defer d.wg.Done()

	t := memory.NewTransfer(p, d.config.Memory.BatchSize)
	channels, err := t.ReadChannels(d.ctx, d.session, d.setProgress, nil)
	if err != nil {
		d.finishTransfer(0, 0, err)
		return
	}

	if name == "" {
		name = "read " + time.Now().Format("2006-01-02 15:04:05")
	}
	snap, err := d.store.SaveSnapshot(name, p.ID(), d.firmware(), channels)
	if err != nil {
		d.finishTransfer(len(channels), 0, err)
		return
	}
	d.finishTransfer(len(channels), snap.ID, nil)
}

// runWrite writes channels to the radio
func (d *K5Daemon) runWrite(p profile.Profile, snapshotID int64, channels []channel.Channel) {
	defer d.wg.Done()

	t := memory.NewTransfer(p, d.config.Memory.BatchSize)
	err := t.WriteChannels(d.ctx, d.session, channels, d.setProgress)
	d.finishTransfer(len(channels), snapshotID, err)
}

// identify refreshes the session token
func (d *K5Daemon) identify(ctx context.Context) (*session.Identity, error) {
	identity, err := d.session.Identify(ctx)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrNoIdentity, session.ErrHandshakeTimeout)
	}
	d.mu.Lock()
	d.identity = identity
	d.mu.Unlock()
	return identity, nil
}

func (d *K5Daemon) firmware() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.identity == nil {
		return ""
	}
	return d.identity.Firmware
}

// startScreencast hands the session stream to the display engine
func (d *K5Daemon) startScreencast() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.screencast {
		return nil
	}
	if d.transfer.Running() {
		return errTransferRunning
	}
	p := d.radio.Active()
	if p == nil {
		return errNoProfile
	}
	if !p.Capabilities().Screencast {
		return fmt.Errorf("profile %s does not support screencast", p.ID())
	}

	handle := d.session.PauseConnection()
	if handle == nil {
		return session.ErrPaused
	}
	if err := d.display.Connect(handle); err != nil {
		d.session.ResumeConnection()
		return err
	}
	d.screencast = true
	d.log.Info("Screencast started")
	return nil
}

// stopScreencast disconnects the display engine and resumes the session
func (d *K5Daemon) stopScreencast() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.screencast {
		return
	}
	d.display.Disconnect()
	d.session.ResumeConnection()
	d.screencast = false
	d.log.Info("Screencast stopped")
}

func (d *K5Daemon) screencastState() protocol.ScreencastState {
	d.mu.RLock()
	active := d.screencast
	d.mu.RUnlock()

	st := d.display.LastStats()
	return protocol.ScreencastState{
		Active:      active,
		FPS:         st.FPS,
		BPS:         st.BPS,
		TotalFrames: d.display.TotalFrames(),
		Resyncs:     d.display.ParserStats().Dropped,
	}
}

// reconcileScreencast resumes the session when the engine lost its stream
// without the daemon seeing the status event
func (d *K5Daemon) reconcileScreencast() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.screencast || d.display.Connected() {
		return
	}
	d.session.ResumeConnection()
	d.screencast = false
	d.log.Warn("Screencast stream lost, session resumed")
}

// watchDisplay resumes the session when the engine drops the stream on error
func (d *K5Daemon) watchDisplay(events <-chan display.Event, unsubscribe func()) {
	defer d.wg.Done()
	defer unsubscribe()

	ticker := time.NewTicker(screencastCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.reconcileScreencast()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == display.EventStatus && ev.Status == display.StatusError {
				d.log.Warn("Screencast ended on error", map[string]interface{}{"error": fmt.Sprint(ev.Err)})
				d.stopScreencast()
			}
		}
	}
}
