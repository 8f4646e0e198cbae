package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"mdrd/mdr"
	"mdrd/rfcomm"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var httpServe = flag.String("s", ":5050", "start http server at [bindtohost][:]port")
var connTo = flag.String("c", "", "connect at startup: bluetooth://MAC, socket://host:port or a serial device")
var verbose = flag.Bool("v", false, "verbose logging")

// To be set via go build -ldflags "-X main.buildVersion=... -X main.buildDate=..."
var buildVersion = "unspecified"
var buildDate = "unknown"

var sess *mdr.Session
var hub *eventHub

// eventHub fans device-state changes out to websocket subscribers. The
// session loop hands snapshots to publish, which must not block; a slow or
// dead subscriber is dropped, not waited for.
type eventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	ch      chan mdr.DeviceState
}

func newEventHub() *eventHub {
	h := &eventHub{
		clients: make(map[*websocket.Conn]bool),
		ch:      make(chan mdr.DeviceState, 16),
	}
	go h.run()
	return h
}

func (h *eventHub) publish(state mdr.DeviceState) {
	select {
	case h.ch <- state:
	default:
		// Subscribers lagging; they will catch up on the next change.
	}
}

func (h *eventHub) run() {
	for state := range h.ch {
		h.mu.Lock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(state); err != nil {
				log.Debugf("dropping event subscriber: %v", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

func (h *eventHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("bad request body: %w", err)
	}
	return nil
}

// connectionLink normalizes an address into a transport link. A bare MAC
// means bluetooth; anything with a scheme passes through.
func connectionLink(address string) string {
	if address == "" {
		return ""
	}
	for _, scheme := range []string{"bluetooth://", "socket://", "tcp://", "file://", "/"} {
		if len(address) >= len(scheme) && address[:len(scheme)] == scheme {
			return address
		}
	}
	return "bluetooth://" + address
}

func getDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := rfcomm.Discover()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func postConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	address := body.Address
	if address == "" {
		devices, err := rfcomm.Discover()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if len(devices) == 0 {
			writeError(w, http.StatusNotFound, fmt.Errorf("no headsets found"))
			return
		}
		address = devices[0].Address
	}

	if err := sess.Connect(connectionLink(address)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	primeState()
	writeJSON(w, http.StatusOK, map[string]interface{}{"connected": true, "address": address})
}

// primeState requests the initial snapshot after connecting. Failures are
// logged; missing fields just stay unknown until the device notifies.
func primeState() {
	for _, payload := range [][]byte{
		mdr.BatteryInquiry(),
		mdr.NcAsmGet(),
		mdr.VolumeGet(),
		mdr.DseeGet(),
		mdr.SpeakToChatGet(),
	} {
		if _, err := sess.SendCommand(payload, mdr.DefaultCommandTimeout); err != nil {
			log.Warnf("initial state request 0x%02X: %v", payload[0], err)
		}
	}
}

func postDisconnect(w http.ResponseWriter, r *http.Request) {
	sess.Disconnect()
	writeJSON(w, http.StatusOK, map[string]interface{}{"connected": false})
}

func getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sess.Status())
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: buildVersion, BuildDate: buildDate})
}

// sendCommand runs a setter and reports whether the device answered.
func sendCommand(w http.ResponseWriter, payload []byte, result map[string]interface{}) {
	_, err := sess.SendCommand(payload, mdr.DefaultCommandTimeout)
	switch err {
	case nil:
		result["ok"] = true
	case mdr.ErrNoResponse:
		result["ok"] = false
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func postAnc(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Mode  string `json:"mode"`
		Level int    `json:"level"`
		Focus bool   `json:"focus"`
	}{Mode: "off", Level: 10}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mode, err := mdr.AncModeByName(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sendCommand(w, mdr.AncCommand(mode, body.Level, body.Focus),
		map[string]interface{}{"mode": body.Mode})
}

func postEq(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Preset string `json:"preset"`
	}{Preset: "off"}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	preset, err := mdr.EqPresetByName(body.Preset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sendCommand(w, mdr.EqPresetSet(preset),
		map[string]interface{}{"preset": body.Preset})
}

func postVolume(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Level int `json:"level"`
	}{Level: 15}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sendCommand(w, mdr.VolumeSet(body.Level),
		map[string]interface{}{"level": body.Level})
}

func postDsee(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sendCommand(w, mdr.DseeSet(body.Enabled),
		map[string]interface{}{"enabled": body.Enabled})
}

func postSpeakToChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sendCommand(w, mdr.SpeakToChatSet(body.Enabled),
		map[string]interface{}{"enabled": body.Enabled})
}

func postPlayback(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Action string `json:"action"`
	}{Action: "play"}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	control, err := mdr.PlaybackByName(body.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Fire and forget: the device rarely answers transport controls.
	_, err = sess.SendCommand(mdr.Playback(control), mdr.FireAndForgetTimeout)
	if err != nil && err != mdr.ErrNoResponse {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": body.Action})
}

func getEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade: %v", err)
		return
	}
	hub.add(conn)
	// Send the current snapshot so subscribers don't start blind.
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteJSON(sess.Status())
}

func main() {
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	sess = mdr.NewSession(rfcomm.Dial)
	hub = newEventHub()
	sess.SetNotify(hub.publish)

	done := make(chan os.Signal, 1)
	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		<-done
		sess.Close()
		os.Exit(0)
	}()

	if *connTo != "" {
		if err := sess.Connect(connectionLink(*connTo)); err != nil {
			log.Errorf("startup connect: %v", err)
		} else {
			primeState()
		}
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/devices", getDevices).Methods("GET")
	router.HandleFunc("/api/connect", postConnect).Methods("POST")
	router.HandleFunc("/api/disconnect", postDisconnect).Methods("POST")
	router.HandleFunc("/api/status", getStatus).Methods("GET")
	router.HandleFunc("/api/anc", postAnc).Methods("POST")
	router.HandleFunc("/api/eq", postEq).Methods("POST")
	router.HandleFunc("/api/volume", postVolume).Methods("POST")
	router.HandleFunc("/api/dsee", postDsee).Methods("POST")
	router.HandleFunc("/api/speak-to-chat", postSpeakToChat).Methods("POST")
	router.HandleFunc("/api/playback", postPlayback).Methods("POST")
	router.HandleFunc("/api/events", getEvents).Methods("GET")
	router.HandleFunc("/api/version", versionInfo).Methods("GET")

	// accept :[portnum] as well as [portnum]
	if i, err := strconv.Atoi(*httpServe); err == nil {
		*httpServe = fmt.Sprintf(":%d", i)
	}

	h := &http.Server{Addr: *httpServe, Handler: router}
	log.Infof("mdrd listening on %s", *httpServe)
	log.Error(h.ListenAndServe())
}
