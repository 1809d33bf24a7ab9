package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/vitrine-ops/imgsync/internal/model"

	"github.com/go-playground/validator/v10"
)

var errNotObject = errors.New("body is not a JSON object")

type resultBody struct {
	Message  text          `json:"message"`
	Status   text          `json:"status" validate:"omitempty,jobstatus"`
	Logs     []logBody     `json:"logs"`
	Data     *dataBody     `json:"data"`
	Meta     *metaBody     `json:"meta"`
	Summary  *summaryBody  `json:"summary"`
	Products []productBody `json:"products" validate:"dive"`
}

type dataBody struct {
	Summary    *summaryBody  `json:"summary"`
	Products   []productBody `json:"products" validate:"dive"`
	Status     text          `json:"status" validate:"omitempty,jobstatus"`
	StartedAt  text          `json:"startedAt"`
	FinishedAt text          `json:"finishedAt"`
	Error      text          `json:"error"`
	Meta       *metaBody     `json:"meta"`
}

type summaryBody struct {
	Linked   counter `json:"linked" validate:"gte=0"`
	Already  counter `json:"already" validate:"gte=0"`
	Products counter `json:"products" validate:"gte=0"`
	Images   counter `json:"images" validate:"gte=0"`
}

type metaBody struct {
	TotalProducts     counter `json:"totalProducts" validate:"gte=0"`
	ProcessedProducts counter `json:"processedProducts" validate:"gte=0"`
}

type logBody struct {
	ID        text `json:"id"`
	Message   text `json:"message"`
	Type      text `json:"type"`
	Timestamp text `json:"timestamp"`
}

type productBody struct {
	ID          text        `json:"id"`
	MongoID     text        `json:"_id"`
	Name        text        `json:"name"`
	Nome        text        `json:"nome"`
	Code        text        `json:"code"`
	Cod         text        `json:"cod"`
	Barcode     text        `json:"barcode"`
	Codbarras   text        `json:"codbarras"`
	DriveFolder *folderBody `json:"driveFolder"`
	Images      []imageBody `json:"images" validate:"dive"`
}

type folderBody struct {
	ID   text `json:"id"`
	Name text `json:"name"`
	Path text `json:"path"`
}

type imageBody struct {
	Sequence      flexInt `json:"sequence" validate:"gte=0"`
	Status        text    `json:"status"`
	LinkedNow     bool    `json:"linkedNow"`
	AlreadyLinked bool    `json:"alreadyLinked"`
	Path          text    `json:"path"`
	Source        text    `json:"source"`
	Message       text    `json:"message"`
}

type ticketBody struct {
	Message   text `json:"message"`
	StartedAt text `json:"startedAt"`
	Status    text `json:"status" validate:"omitempty,jobstatus"`
}

type lookupBody struct {
	Products []productBody `json:"products" validate:"dive"`
}

// decoder is the parse and validation boundary: nothing past it looks at
// raw response fields.
type decoder struct {
	validate *validator.Validate
	now      func() time.Time
}

func newDecoder(now func() time.Time) *decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("jobstatus", func(fl validator.FieldLevel) bool {
		_, err := model.ParseStatus(fl.Field().String())
		return err == nil
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if c, ok := field.Interface().(counter); ok {
			return int(c.n)
		}
		return nil
	}, counter{})
	return &decoder{validate: v, now: now}
}

// object unmarshals a JSON object into v and validates it.
func (d *decoder) object(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return errNotObject
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return d.validate.Struct(v)
}

func (d *decoder) result(data []byte) (model.Payload, error) {
	var body resultBody
	if err := d.object(data, &body); err != nil {
		return model.Payload{}, err
	}
	return d.payload(body), nil
}

func (d *decoder) payload(body resultBody) model.Payload {
	p := model.Payload{
		Message: body.Message.String(),
		Logs:    d.logs(body.Logs),
	}

	summary := body.Summary
	products := body.Products
	meta := body.Meta
	status := body.Status
	if data := body.Data; data != nil {
		if data.Summary != nil {
			summary = data.Summary
		}
		if data.Products != nil {
			products = data.Products
		}
		if meta == nil {
			meta = data.Meta
		}
		if data.Status.String() != "" {
			status = data.Status
		}
		p.StartedAt = parseTime(data.StartedAt)
		p.FinishedAt = parseTime(data.FinishedAt)
		p.Error = data.Error.String()
	}

	if s := status.String(); s != "" {
		// validated already
		p.Status, _ = model.ParseStatus(s)
	}
	if summary != nil {
		p.Summary = model.SummaryPatch{
			Linked:   summary.Linked.ptr(),
			Already:  summary.Already.ptr(),
			Products: summary.Products.ptr(),
			Images:   summary.Images.ptr(),
		}
	}
	if meta != nil {
		p.Meta = model.MetaPatch{
			TotalRecords:     meta.TotalProducts.ptr(),
			ProcessedRecords: meta.ProcessedProducts.ptr(),
		}
	}
	p.Records = make([]model.RecordVerificationResult, 0, len(products))
	for _, pb := range products {
		p.Records = append(p.Records, record(pb))
	}
	return p
}

func (d *decoder) logs(in []logBody) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(in))
	for _, l := range in {
		msg := l.Message.String()
		if msg == "" {
			continue
		}
		id := l.ID.String()
		if id == "" {
			id = strings.Join([]string{string(l.Timestamp), string(l.Message), string(l.Type)}, "::")
		}
		ts := parseTime(l.Timestamp)
		if ts.IsZero() {
			ts = d.now()
		}
		out = append(out, model.LogEntry{
			ID:        id,
			Message:   msg,
			Severity:  model.ParseSeverity(l.Type.String()),
			Timestamp: ts,
			Origin:    model.OriginServer,
		})
	}
	return out
}

func record(pb productBody) model.RecordVerificationResult {
	id := first(pb.ID, pb.MongoID)
	code := first(pb.Code, pb.Cod)
	barcode := first(pb.Barcode, pb.Codbarras)
	r := model.RecordVerificationResult{
		Key:         first(text(barcode), text(code), text(id)),
		ID:          id,
		DisplayName: first(pb.Name, pb.Nome),
		Code:        code,
		Barcode:     barcode,
		Images:      make([]model.ImageResult, 0, len(pb.Images)),
	}
	if f := pb.DriveFolder; f != nil {
		r.Folder = model.Folder{ID: f.ID.String(), Name: f.Name.String(), Path: f.Path.String()}
	}
	for _, img := range pb.Images {
		r.Images = append(r.Images, model.ImageResult{
			Sequence:  int(img.Sequence),
			Status:    imageStatus(img),
			SourceRef: img.Source.String(),
			DestRef:   img.Path.String(),
			Message:   img.Message.String(),
		})
	}
	return r
}

func imageStatus(img imageBody) model.ImageStatus {
	switch strings.ToLower(img.Status.String()) {
	case "uploaded", "linked":
		return model.ImageUploaded
	case "already", "already_linked":
		return model.ImageAlready
	case "failed", "error":
		return model.ImageFailed
	}
	switch {
	case img.LinkedNow:
		return model.ImageUploaded
	case img.AlreadyLinked:
		return model.ImageAlready
	default:
		return model.ImageUnknown
	}
}

func (d *decoder) ticket(data []byte) (model.Ticket, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return model.Ticket{Status: model.StatusQueued}, nil
	}
	var body ticketBody
	if err := d.object(data, &body); err != nil {
		return model.Ticket{}, err
	}
	t := model.Ticket{
		Message:   body.Message.String(),
		StartedAt: parseTime(body.StartedAt),
		Status:    model.StatusQueued,
	}
	if s := body.Status.String(); s != "" {
		t.Status, _ = model.ParseStatus(s)
	}
	return t, nil
}

// lookup returns the first product of a lookup answer.
func (d *decoder) lookup(data []byte) (model.ResolvedRecord, bool, error) {
	var body lookupBody
	if err := d.object(data, &body); err != nil {
		return model.ResolvedRecord{}, false, err
	}
	if len(body.Products) == 0 {
		return model.ResolvedRecord{}, false, nil
	}
	rec := record(body.Products[0])
	return model.ResolvedRecord{
		Key:         rec.Key,
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Code:        rec.Code,
		Found:       true,
	}, true, nil
}

// message extracts the "message" of an error body, if any.
func message(data []byte) (string, bool) {
	var body struct {
		Message text `json:"message"`
		Error   text `json:"error"`
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &body) != nil {
		return "", false
	}
	if m := body.Message.String(); m != "" {
		return m, true
	}
	if m := body.Error.String(); m != "" {
		return m, true
	}
	return "", false
}

// hasData reports whether an error body still carries a result object.
func hasData(data []byte) bool {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &probe) != nil {
		return false
	}
	raw := bytes.TrimSpace(probe.Data)
	return len(raw) > 0 && raw[0] == '{'
}

func first(vals ...text) string {
	for _, v := range vals {
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
