package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/dispatcher"
	"github.com/tinoosan/magnetron/internal/images"
	"github.com/tinoosan/magnetron/internal/magnet"
	"github.com/tinoosan/magnetron/internal/reqid"
	"github.com/tinoosan/magnetron/internal/service"
	"github.com/tinoosan/magnetron/internal/settings"
)

// maxUpload bounds a whole multipart request, images included.
const maxUpload = 64 << 20

// Dispatcher starts background dispatches.
type Dispatcher interface {
	Start(job dispatcher.Job) string
}

type DownloadHandler struct {
	l          *slog.Logger
	docs       service.Documents
	rules      settings.Store
	dispatcher Dispatcher
	images     *images.Store
}

func NewDownloadHandler(l *slog.Logger, docs service.Documents, rules settings.Store, d Dispatcher, img *images.Store) *DownloadHandler {
	return &DownloadHandler{l: l, docs: docs, rules: rules, dispatcher: d, images: img}
}

// acceptedBody is returned with 202 when a dispatch was started.
type acceptedBody struct {
	TaskID   string         `json:"taskId"`
	Document *data.Document `json:"document"`
}

// documentForm is the parsed multipart body shared by create and update.
type documentForm struct {
	urls        []string
	title       *string
	description *string
	images      []string
	movie       *data.Movie
	selection   dispatcher.SelectOptions
	immediate   *bool
}

func (h *DownloadHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	if docs == nil {
		docs = data.Documents{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DownloadHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument stores a new document and, when immediate download is on,
// dispatches its URLs and answers 202 with the task id.
func (h *DownloadHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	in := service.CreateInput{URLs: form.urls, Images: form.images, Movie: form.movie}
	if form.title != nil {
		in.Title = *form.title
	}
	if form.description != nil {
		in.Description = *form.description
	}
	doc, err := h.docs.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	if !h.immediate(r, form) {
		writeJSON(w, http.StatusCreated, doc)
		return
	}
	job := dispatcher.Job{Title: doc.Title, Targets: targets(doc.URLs), Select: form.selection}
	if form.movie != nil {
		job.Code = form.movie.Code
		job.Candidates = form.movie.Magnets
	}
	taskID := h.dispatcher.Start(job)
	reqid.Logger(r.Context(), h.l).Info("dispatch started", "task_id", taskID, "document_id", doc.ID)
	writeJSON(w, http.StatusAccepted, acceptedBody{TaskID: taskID, Document: doc})
}

// UpdateDocument applies the URL diff. Only newly added URLs are dispatched.
func (h *DownloadHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	res, err := h.docs.Update(r.Context(), id, service.UpdateInput{
		URLs:        form.urls,
		Title:       form.title,
		Description: form.description,
		Images:      form.images,
	})
	if err != nil {
		writeError(w, h.l, err)
		return
	}
	if len(res.Added) == 0 || !h.immediate(r, form) {
		writeJSON(w, http.StatusOK, res.Document)
		return
	}
	taskID := h.dispatcher.Start(dispatcher.Job{Title: res.Document.Title, Targets: targets(res.Added), Select: form.selection})
	writeJSON(w, http.StatusAccepted, acceptedBody{TaskID: taskID, Document: res.Document})
}

func (h *DownloadHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), id); err != nil {
		writeError(w, h.l, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// immediate resolves the dispatch flag: the form value when present,
// otherwise the stored rule, which defaults to on.
func (h *DownloadHandler) immediate(r *http.Request, form *documentForm) bool {
	if form.immediate != nil {
		return *form.immediate
	}
	rules, err := h.rules.DownloadRules(r.Context())
	if err != nil {
		reqid.Logger(r.Context(), h.l).Warn("read download rules", "err", err)
		return true
	}
	return rules.Immediate()
}

func (h *DownloadHandler) parseForm(w http.ResponseWriter, r *http.Request) (*documentForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return nil, data.Invalid("invalid form: %v", err)
		}
		if err := r.ParseForm(); err != nil {
			return nil, data.Invalid("invalid form: %v", err)
		}
	}
	form := &documentForm{}

	urls, err := parseURLList(r.FormValue("downloadURLs"))
	if err != nil {
		return nil, err
	}
	form.urls = urls
	if _, ok := r.Form["title"]; ok {
		t := r.FormValue("title")
		form.title = &t
	}
	if _, ok := r.Form["description"]; ok {
		d := r.FormValue("description")
		form.description = &d
	}
	if v := strings.TrimSpace(r.FormValue("downloadImmediately")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &data.ValidationError{Msg: ErrImmediateVal.Error()}
		}
		form.immediate = &b
	}
	if v := strings.TrimSpace(r.FormValue("movie")); v != "" {
		var m data.Movie
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, &data.ValidationError{Msg: ErrMovieJSON.Error()}
		}
		form.movie = &m
	}
	if v := strings.TrimSpace(r.FormValue("selection")); v != "" {
		if err := json.Unmarshal([]byte(v), &form.selection); err != nil {
			return nil, &data.ValidationError{Msg: ErrSelectJSON.Error()}
		}
	}

	// Existing image URLs are kept as sent; uploaded files are stored and
	// appended.
	for _, u := range r.Form["images"] {
		if u = strings.TrimSpace(u); u != "" {
			form.images = append(form.images, u)
		}
	}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["images[]"] {
			u, err := h.saveImage(fh)
			if err != nil {
				return nil, err
			}
			form.images = append(form.images, u)
		}
	}
	return form, nil
}

func (h *DownloadHandler) saveImage(fh *multipart.FileHeader) (string, error) {
	if h.images == nil {
		return "", data.Invalid("image uploads are disabled")
	}
	f, err := fh.Open()
	if err != nil {
		return "", data.Invalid("read upload %s: %v", fh.Filename, err)
	}
	defer f.Close()
	return h.images.Save(f)
}

// parseURLList accepts a JSON string array or pasted free text. From free
// text, lines holding an http(s) link are kept whole and magnets or bare
// hashes anywhere else are extracted in order.
func parseURLList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, &data.ValidationError{Msg: ErrURLList.Error()}
		}
		return out, nil
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			out = append(out, line)
			continue
		}
		out = append(out, magnet.ExtractAllFromText(line)...)
	}
	return out, nil
}

func targets(rows []data.DownloadURL) []dispatcher.Target {
	out := make([]dispatcher.Target, 0, len(rows))
	for _, u := range rows {
		out = append(out, dispatcher.Target{DocumentID: u.DocumentID, URLID: u.ID, URL: u.URL})
	}
	return out
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := data.ParseID(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		badRequest(w, ErrBadID)
		return 0, false
	}
	return id, true
}
