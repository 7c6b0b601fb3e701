package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/docrules/internal/blob"
	"github.com/roach88/docrules/internal/engine"
	"github.com/roach88/docrules/internal/fieldmap"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/store"
)

// Built-in action names.
const (
	ExampleAction  = "exampleAction"
	AddDoc         = "addDoc"
	UpdateDoc      = "updateDoc"
	GetDoc         = "getDoc"
	DeleteDoc      = "deleteDoc"
	AddRuntimeFact = "addRuntimeFact"
	SendEmail      = "sendEmail"
	SaveBlob       = "saveBlob"
)

// Fact names the built-ins read from the running almanac.
const (
	RequestFact   = "request"
	FieldMapsFact = "fieldMaps"
)

// MessagesCollection receives the documents written by sendEmail.
const MessagesCollection = "messages"

// DocumentWriter is the document store capability the built-ins need.
type DocumentWriter interface {
	GetDoc(ctx context.Context, collection, id string) (*ir.Document, error)
	AddDoc(ctx context.Context, collection string, data map[string]any, id string) (string, error)
	SetDoc(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	DeleteDoc(ctx context.Context, collection, id string) (bool, error)
}

// Deps are the collaborators of the built-in actions. Blobs may be nil, in
// which case saveBlob is not registered.
type Deps struct {
	Docs   DocumentWriter
	Blobs  blob.Store
	Now    func() time.Time
	Logger *slog.Logger
}

type builtins struct {
	Deps
}

// RegisterBuiltins installs the built-in actions into reg.
func RegisterBuiltins(reg *Registry, deps Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	b := &builtins{Deps: deps}

	reg.RegisterFunc(ExampleAction, b.example)
	reg.RegisterFunc(AddRuntimeFact, b.addRuntimeFact)
	if deps.Docs != nil {
		reg.RegisterFunc(AddDoc, b.addDoc)
		reg.RegisterFunc(UpdateDoc, b.updateDoc)
		reg.RegisterFunc(GetDoc, b.getDoc)
		reg.RegisterFunc(DeleteDoc, b.deleteDoc)
		reg.RegisterFunc(SendEmail, b.sendEmail)
	}
	if deps.Blobs != nil {
		reg.RegisterFunc(SaveBlob, b.saveBlob)
	}
}

// BuiltinNames lists every built-in action, including the ones
// RegisterBuiltins skips for missing deps.
func BuiltinNames() []string {
	return []string{AddDoc, AddRuntimeFact, DeleteDoc, ExampleAction, GetDoc, SaveBlob, SendEmail, UpdateDoc}
}

func (b *builtins) example(ctx context.Context, params map[string]any) (any, error) {
	b.Logger.Info("This is an example action.", "params", withoutFacts(params))
	return map[string]any{"success": true}, nil
}

func (b *builtins) addRuntimeFact(ctx context.Context, params map[string]any) (any, error) {
	name, _ := params["factName"].(string)
	if name == "" {
		return nil, Errorf(http.StatusBadRequest, "addRuntimeFact requires factName")
	}
	a, ok := engine.AlmanacFrom(ctx)
	if !ok {
		return nil, Errorf(http.StatusInternalServerError, "addRuntimeFact called outside a rule run")
	}
	a.AddRuntimeFact(name, params["value"])
	return map[string]any{"success": true}, nil
}

func (b *builtins) addDoc(ctx context.Context, params map[string]any) (any, error) {
	collection, data, err := writeParams(AddDoc, params)
	if err != nil {
		return nil, err
	}
	if err := requireRequest(ctx, http.MethodPost, true); err != nil {
		return nil, err
	}
	data = ir.ConvertTimestamps(incoming(ctx, collection, data), b.Now())

	id, _ := ir.FormatID(params["id"])
	docID, err := b.Docs.AddDoc(ctx, collection, data, id)
	if errors.Is(err, store.ErrExists) {
		return nil, Errorf(http.StatusConflict, "Document %s/%s already exists.", collection, id)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "docId": docID}, nil
}

func (b *builtins) updateDoc(ctx context.Context, params map[string]any) (any, error) {
	collection, data, err := writeParams(UpdateDoc, params)
	if err != nil {
		return nil, err
	}
	id, ok := ir.FormatID(params["id"])
	if !ok {
		return nil, Errorf(http.StatusBadRequest, "updateDoc requires id")
	}
	if err := requireRequest(ctx, http.MethodPost, true); err != nil {
		return nil, err
	}
	data = ir.ConvertTimestamps(incoming(ctx, collection, data), b.Now())

	merge := true
	if m, ok := params["merge"].(bool); ok {
		merge = m
	}
	if err := b.Docs.SetDoc(ctx, collection, id, data, merge); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (b *builtins) getDoc(ctx context.Context, params map[string]any) (any, error) {
	collection, _ := params["collection"].(string)
	id, ok := ir.FormatID(params["id"])
	if collection == "" || !ok {
		return nil, Errorf(http.StatusBadRequest, "getDoc requires collection and id")
	}
	if err := requireRequest(ctx, http.MethodGet, false); err != nil {
		return nil, err
	}

	doc, err := b.Docs.GetDoc(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, Errorf(http.StatusNotFound, "Document not found.")
	}
	value := doc.Value()
	if maps, ok := fieldMaps(ctx); ok {
		value = fieldmap.MapOutgoing(collection, value, maps)
	}
	return value, nil
}

func (b *builtins) deleteDoc(ctx context.Context, params map[string]any) (any, error) {
	collection, _ := params["collection"].(string)
	id, ok := ir.FormatID(params["id"])
	if collection == "" || !ok {
		return nil, Errorf(http.StatusBadRequest, "deleteDoc requires collection and id")
	}
	deleted, err := b.Docs.DeleteDoc(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "deleted": deleted}, nil
}

// emailFields maps sendEmail params to the outbound message fields.
var emailFields = []struct{ param, field string }{
	{"to", "To"},
	{"from", "From"},
	{"cc", "Cc"},
	{"bcc", "Bcc"},
	{"replyTo", "ReplyTo"},
	{"subject", "Subject"},
	{"htmlBody", "HtmlBody"},
	{"textBody", "TextBody"},
	{"metadata", "Metadata"},
	{"attachments", "Attachments"},
	{"templateId", "TemplateId"},
	{"templateAlias", "TemplateAlias"},
	{"templateModel", "TemplateModel"},
}

// sendEmail queues an outbound email as a messages document; delivery is
// done by whatever consumes that collection.
func (b *builtins) sendEmail(ctx context.Context, params map[string]any) (any, error) {
	emailData := map[string]any{}
	for _, f := range emailFields {
		if v, ok := params[f.param]; ok && truthy(v) {
			emailData[f.field] = v
		}
	}
	if _, ok := emailData["To"]; !ok {
		return nil, Errorf(http.StatusBadRequest, "sendEmail requires to")
	}
	msg := map[string]any{
		"direction":   "outbound",
		"messageType": "email",
		"status":      "new",
		"emailData":   emailData,
		"created":     ir.TimestampOf(b.Now()).Value(),
	}
	id, err := b.Docs.AddDoc(ctx, MessagesCollection, msg, "")
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "docId": id}, nil
}

// saveBlob writes params.data as JSON under params.key.
func (b *builtins) saveBlob(ctx context.Context, params map[string]any) (any, error) {
	key, _ := params["key"].(string)
	data, ok := params["data"]
	if key == "" || !ok {
		return nil, Errorf(http.StatusBadRequest, "saveBlob requires key and data")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, Errorf(http.StatusBadRequest, "saveBlob data is not JSON: %v", err)
	}
	contentType, _ := params["contentType"].(string)
	if contentType == "" {
		contentType = "application/json"
	}
	info, err := b.Blobs.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{ContentType: contentType})
	if errors.Is(err, blob.ErrExists) {
		return nil, Errorf(http.StatusConflict, "Blob %s already exists.", key)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "key": info.Key, "size": info.Size}, nil
}

func writeParams(action string, params map[string]any) (string, map[string]any, error) {
	collection, _ := params["collection"].(string)
	data, _ := params["data"].(map[string]any)
	if collection == "" || data == nil {
		return "", nil, Errorf(http.StatusBadRequest, "%s requires collection and data", action)
	}
	return collection, data, nil
}

// requireRequest checks the api request fact, when the run has one.
func requireRequest(ctx context.Context, method string, wantJSON bool) error {
	req, ok := requestFact(ctx)
	if !ok {
		return nil
	}
	got, _ := req["method"].(string)
	if !strings.EqualFold(got, method) {
		return Errorf(http.StatusMethodNotAllowed, "Method %s not allowed, use %s.", got, method)
	}
	if !wantJSON {
		return nil
	}
	headers, _ := req["headers"].(map[string]any)
	ct, _ := headers["content-type"].(string)
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return Errorf(http.StatusUnsupportedMediaType, "Content-Type must be application/json.")
	}
	return nil
}

func requestFact(ctx context.Context) (map[string]any, bool) {
	a, ok := engine.AlmanacFrom(ctx)
	if !ok || !a.HasFact(RequestFact) {
		return nil, false
	}
	v, err := a.FactValue(ctx, RequestFact, nil)
	if err != nil {
		return nil, false
	}
	req, ok := v.(map[string]any)
	return req, ok
}

func fieldMaps(ctx context.Context) (fieldmap.Maps, bool) {
	a, ok := engine.AlmanacFrom(ctx)
	if !ok || !a.HasFact(FieldMapsFact) {
		return nil, false
	}
	v, err := a.FactValue(ctx, FieldMapsFact, nil)
	if err != nil {
		return nil, false
	}
	return fieldmap.FromValue(v)
}

func incoming(ctx context.Context, collection string, data map[string]any) map[string]any {
	if maps, ok := fieldMaps(ctx); ok {
		return fieldmap.MapIncoming(collection, data, maps)
	}
	return data
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}
