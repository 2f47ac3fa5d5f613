package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tryon/internal/imageenc"
	"tryon/internal/middleware"
	"tryon/internal/upload"
	"tryon/internal/wizard"
)

// multipartOverhead bounds the non-file bytes of an upload request.
const multipartOverhead = 64 << 10

type imageView struct {
	MIMEType   string `json:"mime_type"`
	PreviewURL string `json:"preview_url"`
}

type resultView struct {
	MIMEType string `json:"mime_type"`
	URL      string `json:"url"`
}

type sessionView struct {
	ID          string      `json:"id"`
	Step        wizard.Step `json:"step"`
	Product     *imageView  `json:"product,omitempty"`
	Model       *imageView  `json:"model,omitempty"`
	Result      *resultView `json:"result,omitempty"`
	Message     string      `json:"message,omitempty"`
	CanAdvance  bool        `json:"can_advance"`
	CanGenerate bool        `json:"can_generate"`
}

func resultURL(id string) string {
	return "/v1/sessions/" + id + "/result"
}

func (a *App) view(r *http.Request, id string, s wizard.State) sessionView {
	v := sessionView{
		ID:          id,
		Step:        s.Step,
		CanAdvance:  s.CanAdvance(),
		CanGenerate: s.CanGenerate(),
	}
	if s.Product != nil {
		v.Product = &imageView{MIMEType: s.Product.MIMEType, PreviewURL: s.Product.PreviewURL}
	}
	if s.Model != nil {
		v.Model = &imageView{MIMEType: s.Model.MIMEType, PreviewURL: s.Model.PreviewURL}
	}
	if s.Result != nil {
		v.Result = &resultView{MIMEType: s.Result.MIMEType, URL: resultURL(id)}
	}
	if s.Error != "" && s.Step == wizard.AwaitingModel {
		v.Message = a.translate(r, s.Error)
	}
	return v
}

func (a *App) controller(w http.ResponseWriter, r *http.Request) (*wizard.Controller, bool) {
	ctrl, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return ctrl, true
}

func wantsWait(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return ok
}

// CreateSession starts a wizard in the initial step.
func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctrl := a.Sessions.Create(middleware.LocaleFromContext(r.Context()))
	w.Header().Set("Location", "/v1/sessions/"+ctrl.ID())
	a.json(w, http.StatusCreated, a.view(r, ctrl.ID(), ctrl.Snapshot()))
}

// GetSession returns the current snapshot. With ?wait=true it first blocks
// until a running generation settles or the request ends.
func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.controller(w, r)
	if !ok {
		return
	}
	if wantsWait(r) {
		_ = ctrl.Wait(r.Context())
	}
	a.json(w, http.StatusOK, a.view(r, ctrl.ID(), ctrl.Snapshot()))
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) UploadProduct(w http.ResponseWriter, r *http.Request) {
	a.upload(w, r, upload.ProductSlot)
}

func (a *App) UploadModel(w http.ResponseWriter, r *http.Request) {
	a.upload(w, r, upload.ModelSlot)
}

func (a *App) upload(w http.ResponseWriter, r *http.Request, slot upload.Slot) {
	ctrl, ok := a.controller(w, r)
	if !ok {
		return
	}
	state, err := a.receiveUpload(w, r, ctrl, slot)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.view(r, ctrl.ID(), state))
}

func (a *App) Advance(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, (*wizard.Controller).Advance)
}

func (a *App) Back(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, (*wizard.Controller).Back)
}

func (a *App) Reset(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(c *wizard.Controller) (wizard.State, error) {
		return c.Reset(), nil
	})
}

func (a *App) transition(w http.ResponseWriter, r *http.Request, fn func(*wizard.Controller) (wizard.State, error)) {
	ctrl, ok := a.controller(w, r)
	if !ok {
		return
	}
	state, err := fn(ctrl)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.view(r, ctrl.ID(), state))
}

// Generate starts a generation attempt and answers 202 with the Generating
// snapshot. With ?wait=true it answers 200 once the attempt settles.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.controller(w, r)
	if !ok {
		return
	}
	state, err := ctrl.Generate(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !wantsWait(r) {
		w.Header().Set("Location", "/v1/sessions/"+ctrl.ID())
		a.json(w, http.StatusAccepted, a.view(r, ctrl.ID(), state))
		return
	}
	if err := ctrl.Wait(r.Context()); err != nil {
		a.json(w, http.StatusAccepted, a.view(r, ctrl.ID(), ctrl.Snapshot()))
		return
	}
	a.json(w, http.StatusOK, a.view(r, ctrl.ID(), ctrl.Snapshot()))
}

// Result serves the generated image bytes.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.controller(w, r)
	if !ok {
		return
	}
	res := ctrl.Snapshot().Result
	if res == nil {
		a.error(w, r, http.StatusNotFound, "no_result", "no result available")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		a.fail(w, r, fmt.Errorf("decode result: %w", err))
		return
	}
	w.Header().Set("Content-Type", res.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// receiveUpload streams the multipart "file" field through slot without
// buffering it to disk. A request without a chosen file leaves the state
// unchanged.
func (a *App) receiveUpload(w http.ResponseWriter, r *http.Request, ctrl *wizard.Controller, slot upload.Slot) (wizard.State, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.Encoder.MaxBytes()+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return ctrl.Snapshot(), fmt.Errorf("%w: %w", imageenc.ErrRead, err)
	}

	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return ctrl.Snapshot(), imageenc.ErrTooLarge
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return ctrl.Snapshot(), fmt.Errorf("%w: %w", imageenc.ErrRead, err)
		}
		if p.FormName() == "file" {
			part = p
			break
		}
		_ = p.Close()
	}
	if part == nil || part.FileName() == "" {
		return ctrl.Snapshot(), nil
	}
	defer part.Close()

	header := &multipart.FileHeader{Filename: part.FileName(), Header: part.Header}
	var (
		state    wizard.State
		applyErr error
		applied  bool
	)
	selectErr := slot.Select(a.Encoder, part, header, func(img imageenc.EncodedImage) {
		applied = true
		state, applyErr = selectInto(ctrl, slot, img)
	})
	var tooLarge *http.MaxBytesError
	if errors.As(selectErr, &tooLarge) {
		selectErr = imageenc.ErrTooLarge
	}
	a.recordUpload(slot.Name, selectErr)
	if selectErr != nil {
		a.Logger.Debug().Err(selectErr).Str("slot", slot.Name).Str("filename", header.Filename).Msg("upload rejected")
		return ctrl.Snapshot(), selectErr
	}
	if !applied {
		return ctrl.Snapshot(), nil
	}
	return state, applyErr
}

func selectInto(ctrl *wizard.Controller, slot upload.Slot, img imageenc.EncodedImage) (wizard.State, error) {
	if slot.Name == upload.ModelSlot.Name {
		return ctrl.SelectModel(img)
	}
	return ctrl.SelectProduct(img)
}
