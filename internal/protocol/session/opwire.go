package session

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/taigalab/taigactl/internal/protocol/frame"
	"github.com/taigalab/taigactl/internal/protocol/schema"
	"github.com/taigalab/taigactl/internal/protocol/tlv"
)

// Override is one configuration override applied in declaration order.
type Override struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ConfigureRequest is the client->host payload starting engine configuration.
type ConfigureRequest struct {
	RunID     string
	Project   string
	Overrides []Override
}

func (r ConfigureRequest) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("configure missing run_id")
	}
	if strings.TrimSpace(r.Project) == "" {
		return fmt.Errorf("configure missing project")
	}
	for i, ov := range r.Overrides {
		if strings.TrimSpace(ov.Key) == "" {
			return fmt.Errorf("configure overrides[%d] missing key", i)
		}
	}
	return nil
}

// CreateRequest is the client->host payload asking for model creation.
type CreateRequest struct {
	RunID string
}

func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("create missing run_id")
	}
	return nil
}

// AdvanceRequest is the client->host payload advancing the model clock.
type AdvanceRequest struct {
	RunID string
	Steps uint32
}

func (r AdvanceRequest) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("advance missing run_id")
	}
	if r.Steps == 0 {
		return fmt.Errorf("advance missing steps")
	}
	return nil
}

// ShutdownRequest is the client->host payload releasing the run's engine.
type ShutdownRequest struct {
	RunID string
}

func (r ShutdownRequest) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("shutdown missing run_id")
	}
	return nil
}

// OpResult is the host->client payload reporting engine state after one
// operation. HasError/LastError mirror the engine's own error flag.
// Panicked marks an operation that blew up instead of setting error state;
// LastError then carries the recovered message.
type OpResult struct {
	RunID       string
	Op          string
	HasError    bool
	Panicked    bool
	LastError   string
	TimestampMS uint64
}

func (r OpResult) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("result missing run_id")
	}
	switch r.Op {
	case schema.OpConfigure, schema.OpCreate, schema.OpAdvance, schema.OpShutdown:
	default:
		return fmt.Errorf("result invalid op: %q", r.Op)
	}
	return nil
}

// Progress is the host->client payload reporting one completed model year.
type Progress struct {
	RunID       string
	Year        uint32
	TimestampMS uint64
}

func (p Progress) Validate() error {
	if strings.TrimSpace(p.RunID) == "" {
		return fmt.Errorf("progress missing run_id")
	}
	if p.Year == 0 {
		return fmt.Errorf("progress missing year")
	}
	return nil
}

func EncodeConfigureFrame(messageID uint64, req ConfigureRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		{ID: schema.FieldRunID, Type: tlv.TypeString, Value: []byte(req.RunID)},
		{ID: schema.FieldProject, Type: tlv.TypeString, Value: []byte(req.Project)},
	}
	if len(req.Overrides) > 0 {
		payload, err := json.Marshal(req.Overrides)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Field{ID: schema.FieldOverrides, Type: tlv.TypeBytes, Value: payload})
	}
	return encodeOpFrame(messageID, schema.MsgConfigure, 0, fields)
}

func DecodeConfigureFrame(f frame.Frame) (ConfigureRequest, error) {
	fields, err := decodeOpFields(f, schema.MsgConfigure)
	if err != nil {
		return ConfigureRequest{}, err
	}
	req := ConfigureRequest{
		RunID:   getRequiredString(fields, schema.FieldRunID),
		Project: getRequiredString(fields, schema.FieldProject),
	}
	if ovField, ok := tlv.GetField(fields, schema.FieldOverrides); ok {
		if err := json.Unmarshal(ovField.Value, &req.Overrides); err != nil {
			return ConfigureRequest{}, fmt.Errorf("session: decode overrides: %w", err)
		}
	}
	return req, nil
}

func EncodeCreateFrame(messageID uint64, req CreateRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		{ID: schema.FieldRunID, Type: tlv.TypeString, Value: []byte(req.RunID)},
	}
	return encodeOpFrame(messageID, schema.MsgCreate, 0, fields)
}

func DecodeCreateFrame(f frame.Frame) (CreateRequest, error) {
	fields, err := decodeOpFields(f, schema.MsgCreate)
	if err != nil {
		return CreateRequest{}, err
	}
	return CreateRequest{RunID: getRequiredString(fields, schema.FieldRunID)}, nil
}

func EncodeAdvanceFrame(messageID uint64, req AdvanceRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		{ID: schema.FieldRunID, Type: tlv.TypeString, Value: []byte(req.RunID)},
		{ID: schema.FieldSteps, Type: tlv.TypeU32, Value: putU32(req.Steps)},
	}
	return encodeOpFrame(messageID, schema.MsgAdvance, 0, fields)
}

func DecodeAdvanceFrame(f frame.Frame) (AdvanceRequest, error) {
	fields, err := decodeOpFields(f, schema.MsgAdvance)
	if err != nil {
		return AdvanceRequest{}, err
	}
	req := AdvanceRequest{RunID: getRequiredString(fields, schema.FieldRunID)}
	stepsField, _ := tlv.GetField(fields, schema.FieldSteps)
	steps, err := tlv.U32FromBytes(stepsField.Value)
	if err != nil {
		return AdvanceRequest{}, err
	}
	req.Steps = steps
	return req, nil
}

func EncodeShutdownFrame(messageID uint64, req ShutdownRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		{ID: schema.FieldRunID, Type: tlv.TypeString, Value: []byte(req.RunID)},
	}
	return encodeOpFrame(messageID, schema.MsgShutdown, 0, fields)
}

func DecodeShutdownFrame(f frame.Frame) (ShutdownRequest, error) {
	fields, err := decodeOpFields(f, schema.MsgShutdown)
	if err != nil {
		return ShutdownRequest{}, err
	}
	return ShutdownRequest{RunID: getRequiredString(fields, schema.FieldRunID)}, nil
}

func EncodeResultFrame(messageID uint64, result OpResult) ([]byte, error) {
	if err := result.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		{ID: schema.FieldRunID, Type: tlv.TypeString, Value: []byte(result.RunID)},
		{ID: schema.FieldOp, Type: tlv.TypeString, Value: []byte(result.Op)},
		{ID: schema.FieldHasError, Type: tlv.TypeBool, Value: tlv.PutBool(result.HasError)},
	}
	if result.Panicked {
		fields = append(fields, tlv.Field{ID: schema.FieldPanicked, Type: tlv.TypeBool, Value: tlv.PutBool(true)})
	}
	if result.LastError != "" {
		fields = append(fields, tlv.Field{ID: schema.FieldLastError, Type: tlv.TypeString, Value: []byte(result.LastError)})
	}
	if result.TimestampMS != 0 {
		fields = append(fields, tlv.Field{ID: schema.FieldTimestampMS, Type: tlv.TypeU64, Value: putU64(result.TimestampMS)})
	}
	flags := frame.FlagIsResponse
	if result.HasError || result.Panicked {
		flags |= frame.FlagIsError
	}
	return encodeOpFrame(messageID, schema.MsgResult, flags, fields)
}

func DecodeResultFrame(f frame.Frame) (OpResult, error) {
	fields, err := decodeOpFields(f, schema.MsgResult)
	if err != nil {
		return OpResult{}, err
	}
	result := OpResult{
		RunID: getRequiredString(fields, schema.FieldRunID),
		Op:    getRequiredString(fields, schema.FieldOp),
	}
	hasErrField, _ := tlv.GetField(fields, schema.FieldHasError)
	hasErr, err := tlv.BoolFromBytes(hasErrField.Value)
	if err != nil {
		return OpResult{}, err
	}
	result.HasError = hasErr
	if panicField, ok := tlv.GetField(fields, schema.FieldPanicked); ok {
		panicked, err := tlv.BoolFromBytes(panicField.Value)
		if err != nil {
			return OpResult{}, err
		}
		result.Panicked = panicked
	}
	if lastErrField, ok := tlv.GetField(fields, schema.FieldLastError); ok {
		result.LastError = string(lastErrField.Value)
	}
	if tsField, ok := tlv.GetField(fields, schema.FieldTimestampMS); ok {
		ts, err := u64FromBytes(tsField.Value)
		if err != nil {
			return OpResult{}, err
		}
		result.TimestampMS = ts
	}
	return result, nil
}

func EncodeProgressFrame(messageID uint64, progress Progress) ([]byte, error) {
	if err := progress.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		{ID: schema.FieldRunID, Type: tlv.TypeString, Value: []byte(progress.RunID)},
		{ID: schema.FieldYear, Type: tlv.TypeU32, Value: putU32(progress.Year)},
	}
	if progress.TimestampMS != 0 {
		fields = append(fields, tlv.Field{ID: schema.FieldTimestampMS, Type: tlv.TypeU64, Value: putU64(progress.TimestampMS)})
	}
	return encodeOpFrame(messageID, schema.MsgProgress, frame.FlagIsEvent, fields)
}

func DecodeProgressFrame(f frame.Frame) (Progress, error) {
	fields, err := decodeOpFields(f, schema.MsgProgress)
	if err != nil {
		return Progress{}, err
	}
	progress := Progress{RunID: getRequiredString(fields, schema.FieldRunID)}
	yearField, _ := tlv.GetField(fields, schema.FieldYear)
	year, err := tlv.U32FromBytes(yearField.Value)
	if err != nil {
		return Progress{}, err
	}
	progress.Year = year
	if tsField, ok := tlv.GetField(fields, schema.FieldTimestampMS); ok {
		ts, err := u64FromBytes(tsField.Value)
		if err != nil {
			return Progress{}, err
		}
		progress.TimestampMS = ts
	}
	return progress, nil
}

// ReadFrame reads one framed message from the stream.
func ReadFrame(r io.Reader, limits frame.Limits) (frame.Frame, error) {
	return frame.ReadFrame(r, limits)
}

func encodeOpFrame(messageID uint64, messageType uint32, flags uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	payload := tlv.EncodeFields(fields)
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			Magic:       schema.Magic,
			Version:     schema.Version,
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeOpFields(f frame.Frame, messageType uint32) ([]tlv.Field, error) {
	if err := f.Header.Verify(schema.Magic, schema.Version); err != nil {
		return nil, err
	}
	if f.Header.MessageType != messageType {
		return nil, fmt.Errorf("session: unexpected message_type: got=%d want=%d", f.Header.MessageType, messageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func getRequiredString(fields []tlv.Field, id uint16) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}

func putU32(v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	return out
}

func putU64(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	return out
}

func u64FromBytes(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("session: invalid u64 length: %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
