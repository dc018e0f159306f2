package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dededodu/locoloco/oracle"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/topology"
	"github.com/dededodu/locoloco/tracker"
)

func (g *Gateway) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "locoloco controller running")
}

// locoStatusResponse is the wire shape of GET /loco_status.
type locoStatusResponse struct {
	LocoID        string         `json:"loco_id"`
	Checkpoint    string         `json:"checkpoint,omitempty"`
	Segment       string         `json:"segment,omitempty"`
	Direction     string         `json:"direction"`
	Speed         string         `json:"speed"`
	Online        bool           `json:"online"`
	Intent        tracker.Intent `json:"intent"`
	Discontinuity bool           `json:"discontinuity"`
}

func (g *Gateway) handleLocoStatus(w http.ResponseWriter, r *http.Request) {
	locoID := r.PathValue("loco_id")
	snap, ok := g.locos.Get(locoID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown loco")
		return
	}
	writeJSON(w, http.StatusOK, locoStatusResponse{
		LocoID:        snap.LocoID,
		Checkpoint:    string(snap.Checkpoint),
		Segment:       string(snap.Segment),
		Direction:     snap.Direction.String(),
		Speed:         snap.Speed.String(),
		Online:        snap.Online,
		Intent:        snap.Intent,
		Discontinuity: snap.Discontinuity,
	})
}

// switchStatusResponse is the wire shape of GET /switch_status.
type switchStatusResponse struct {
	ActuatorID string `json:"actuator_id"`
	Position   string `json:"position"`
	Pending    bool   `json:"pending"`
	Online     bool   `json:"online"`
}

func (g *Gateway) handleSwitchStatus(w http.ResponseWriter, r *http.Request) {
	actuatorID := topology.ActuatorID(r.PathValue("actuator_id"))
	snap, ok := g.cmds.SwitchStatus(actuatorID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown actuator")
		return
	}
	writeJSON(w, http.StatusOK, switchStatusResponse{
		ActuatorID: string(snap.ActuatorID),
		Position:   snap.Position.String(),
		Pending:    snap.Pending,
		Online:     snap.Online,
	})
}

type controlLocoRequest struct {
	LocoID    string `json:"loco_id"`
	Direction string `json:"direction"`
	Speed     string `json:"speed"`
}

func (g *Gateway) handleControlLoco(w http.ResponseWriter, r *http.Request) {
	if g.refuseManual(w) {
		return
	}
	var req controlLocoRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.LocoID == "" {
		writeError(w, http.StatusBadRequest, "loco_id is required")
		return
	}
	direction, err := protocol.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid direction")
		return
	}
	speed, err := protocol.ParseSpeed(req.Speed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid speed")
		return
	}

	outcome := g.cmds.ControlLoco(r.Context(), req.LocoID, direction, speed)
	writeOutcome(w, outcome)
}

type driveSwitchRequest struct {
	ActuatorID string `json:"actuator_id"`
	State      string `json:"state"`
}

func (g *Gateway) handleDriveSwitch(w http.ResponseWriter, r *http.Request) {
	if g.refuseManual(w) {
		return
	}
	var req driveSwitchRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.ActuatorID == "" {
		writeError(w, http.StatusBadRequest, "actuator_id is required")
		return
	}
	position, err := protocol.ParseSwitchPosition(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	outcome := g.cmds.DriveSwitch(r.Context(), topology.ActuatorID(req.ActuatorID), position)
	writeOutcome(w, outcome)
}

type locoIntentRequest struct {
	LocoID string `json:"loco_id"`
	Intent struct {
		Kind      string `json:"kind"`
		Direction string `json:"direction"`
		Target    string `json:"target"`
	} `json:"intent"`
}

func (g *Gateway) handleLocoIntent(w http.ResponseWriter, r *http.Request) {
	var req locoIntentRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.LocoID == "" {
		writeError(w, http.StatusBadRequest, "loco_id is required")
		return
	}

	var intent tracker.Intent
	switch req.Intent.Kind {
	case "none":
		intent = tracker.Intent{Kind: tracker.IntentNone}
	case "drive", "stop":
		direction, err := protocol.ParseDirection(req.Intent.Direction)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid direction")
			return
		}
		if req.Intent.Target == "" {
			writeError(w, http.StatusBadRequest, "target is required")
			return
		}
		if req.Intent.Kind == "drive" {
			intent = tracker.Intent{
				Kind:      tracker.IntentDrive,
				Direction: direction,
				Track:     topology.TrackID(req.Intent.Target),
			}
		} else {
			intent = tracker.Intent{
				Kind:       tracker.IntentStop,
				Direction:  direction,
				Checkpoint: topology.CheckpointID(req.Intent.Target),
			}
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be one of none, drive, stop")
		return
	}

	if !g.locos.SetIntent(req.LocoID, intent) {
		writeError(w, http.StatusNotFound, "unknown loco")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loco_id": req.LocoID, "intent": intent})
}

type oracleModeRequest struct {
	Mode string `json:"mode"`
}

func (g *Gateway) handleOracleMode(w http.ResponseWriter, r *http.Request) {
	var req oracleModeRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	mode, err := oracle.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "mode must be off or auto")
		return
	}
	g.supervisor.SetMode(mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": mode.String()})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := g.monitor.AggregateHealth("locoloco")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// refuseManual blocks manual device commands while the supervisor drives
// the layout.
func (g *Gateway) refuseManual(w http.ResponseWriter) bool {
	if g.supervisor.Mode() == oracle.ModeAuto {
		writeError(w, http.StatusConflict, "manual control disabled while oracle is in auto mode")
		return true
	}
	return false
}

// decodeBody parses a size-limited JSON request body. It writes the error
// response itself and returns false when the body is unusable.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxRequestSize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return false
	}
	return true
}

// writeOutcome maps a command outcome to its HTTP status.
func writeOutcome(w http.ResponseWriter, outcome router.Outcome) {
	var status int
	switch outcome {
	case router.Accepted:
		status = http.StatusOK
	case router.Busy:
		status = http.StatusConflict
	case router.Offline, router.Timeout:
		status = http.StatusServiceUnavailable
	case router.UnknownDevice:
		status = http.StatusNotFound
	case router.Rejected:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"outcome": outcome.String(),
		"status":  status,
	})
}
