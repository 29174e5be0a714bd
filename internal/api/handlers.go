// SPDX-License-Identifier: MIT
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"circlights/internal/build"
	"circlights/internal/engine"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
	"circlights/internal/zone"
)

type statusResponse struct {
	engine.Status
	Build build.Info `json:"build"`
}

type playbackRequest struct {
	Action   string  `json:"action"`
	Position float64 `json:"position"`
}

type ledTestRequest struct {
	Pattern    string `json:"pattern"`
	DurationMs int    `json:"duration_ms"`
}

type replaceZonesRequest struct {
	Zones []zoneBody `json:"zones"`
}

// zoneBody is a zone in a request. An omitted sensitivity defaults; an
// explicit 0 is kept so that validation rejects it.
type zoneBody zone.Zone

func (b *zoneBody) UnmarshalJSON(data []byte) error {
	type plain zone.Zone
	p := plain{Sensitivity: zone.DefaultSensitivity}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*b = zoneBody(p)
	return nil
}

type zoneActionRequest struct {
	Enabled     *bool           `json:"enabled"`
	Effect      zone.EffectType `json:"effect"`
	Sensitivity float64         `json:"sensitivity"`
}

type presetsResponse struct {
	Presets []string `json:"presets"`
	Current string   `json:"current"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: s.ctrl.Status(), Build: build.Get()})
}

func (s *Server) handleAudioDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.ctrl.AudioDevices()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAudioSource(w http.ResponseWriter, r *http.Request) {
	var req engine.AudioSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ctrl.SetAudioSource(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status().Audio)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ctrl.Playback(r.Context(), req.Action, req.Position); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status().Audio.Playback)
}

func (s *Server) handleLEDConfig(w http.ResponseWriter, r *http.Request) {
	var req engine.LEDSettings
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ctrl.SetLEDConfig(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status().LED)
}

func (s *Server) handleLEDTest(w http.ResponseWriter, r *http.Request) {
	var req ledTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DurationMs < 0 {
		writeError(w, r, apperrors.New(apperrors.KindConfigurationInvalid, "led test", "duration_ms must not be negative"))
		return
	}
	d := time.Duration(req.DurationMs) * time.Millisecond
	if err := s.ctrl.LEDTest(r.Context(), req.Pattern, d); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	info, err := s.ctrl.DeviceInfo(r.Context(), refresh)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Zones())
}

func (s *Server) handleAddZone(w http.ResponseWriter, r *http.Request) {
	body := zoneBody{Sensitivity: zone.DefaultSensitivity}
	if !decodeJSON(w, r, &body) {
		return
	}
	z := zone.Zone(body)
	s.applyZoneEdit(w, r, zone.Edit{Op: zone.OpAdd, Name: z.Name, Zone: &z}, http.StatusCreated)
}

func (s *Server) handleReplaceZones(w http.ResponseWriter, r *http.Request) {
	var req replaceZonesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	zones := make([]zone.Zone, len(req.Zones))
	for i, b := range req.Zones {
		zones[i] = zone.Zone(b)
	}
	s.applyZoneEdit(w, r, zone.Edit{Op: zone.OpReplace, Zones: zones}, http.StatusOK)
}

func (s *Server) handleUpdateZone(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body := zoneBody{Sensitivity: zone.DefaultSensitivity}
	if !decodeJSON(w, r, &body) {
		return
	}
	z := zone.Zone(body)
	if z.Name == "" {
		z.Name = name
	}
	if z.Name != name {
		writeError(w, r, apperrors.Newf(apperrors.KindConfigurationInvalid, "zone update", "zone name %q does not match path %q", z.Name, name))
		return
	}
	s.applyZoneEdit(w, r, zone.Edit{Op: zone.OpUpdate, Name: name, Zone: &z}, http.StatusOK)
}

func (s *Server) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	s.applyZoneEdit(w, r, zone.Edit{Op: zone.OpDelete, Name: r.PathValue("name")}, http.StatusOK)
}

func (s *Server) handleZoneAction(w http.ResponseWriter, r *http.Request) {
	edit := zone.Edit{Name: r.PathValue("name")}
	var req zoneActionRequest
	switch action := r.PathValue("action"); action {
	case "toggle":
		edit.Op = zone.OpToggle
	case "enable":
		if !decodeJSON(w, r, &req) {
			return
		}
		edit.Op = zone.OpEnable
		edit.Enabled = req.Enabled == nil || *req.Enabled
	case "disable":
		edit.Op = zone.OpEnable
		edit.Enabled = false
	case "effect":
		if !decodeJSON(w, r, &req) {
			return
		}
		edit.Op, edit.Effect = zone.OpSetEffect, req.Effect
	case "sensitivity":
		if !decodeJSON(w, r, &req) {
			return
		}
		edit.Op, edit.Sensitivity = zone.OpSetSensitivity, req.Sensitivity
	default:
		writeError(w, r, apperrors.Newf(apperrors.KindNotFound, "zone action", "unknown zone action %q", action))
		return
	}
	s.applyZoneEdit(w, r, edit, http.StatusOK)
}

func (s *Server) applyZoneEdit(w http.ResponseWriter, r *http.Request, edit zone.Edit, status int) {
	if err := s.ctrl.ApplyZoneEdit(r.Context(), edit); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, s.ctrl.Zones())
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	names, err := s.ctrl.ListPresets()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presetsResponse{Presets: names, Current: s.ctrl.Status().CurrentPreset})
}

func (s *Server) handleLoadPreset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.LoadPreset(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	s.handlePresets(w, r)
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SavePreset(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	s.handlePresets(w, r)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeletePreset(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	s.handlePresets(w, r)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	applog.Infof("API: Shutdown requested by %s", r.RemoteAddr)
	s.ctrl.RequestShutdown()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperrors.Wrap(apperrors.KindConfigurationInvalid, "decode request", fmt.Errorf("invalid JSON body: %w", err)))
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindConfigurationInvalid:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindShutdownInProgress:
		return http.StatusServiceUnavailable
	case apperrors.KindDeviceUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		applog.Warnf("API: %s %s: %v", r.Method, r.URL.Path, err)
	} else {
		applog.Debugf("API: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: apperrors.KindOf(err).String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Debugf("API: Writing response: %v", err)
	}
}
