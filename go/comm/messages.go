// Package comm is the delivery side of the pipeline: the serialize-tag,
// compress and send stages, the framed TCP sender, the startup recovery
// pass, and the status feed from the downstream aggregator.
package comm

import (
	"fmt"

	"github.com/Gawain27/PubScraper/go/message"
)

// Pipeline message types. The type doubles as the stat label.
const (
	TypeSerializeEntity = "entity_adjustment"
	TypePackageEntity   = "entity_packaging"
	TypeSendEntity      = "entity_send"
	TypeStatusReq       = "status_request"
)

// SerializeEntity asks the pipeline to stamp class and variant tags on a
// persisted document.
type SerializeEntity struct {
	message.Message
	Iface     string
	DocID     string
	ClassID   int
	VariantID int
}

// NewSerializeEntity mints a SerializeEntity for the identified document.
func NewSerializeEntity(f *message.Factory, iface, docID string, classID, variantID int) *SerializeEntity {
	var m = &SerializeEntity{
		Message:   f.New(TypeSerializeEntity, TypeSerializeEntity),
		Iface:     iface,
		DocID:     docID,
		ClassID:   classID,
		VariantID: variantID,
	}
	m.System = true
	m.Destination = message.DestSystem
	return m
}

// Base implements message.Envelope.
func (m *SerializeEntity) Base() *message.Message { return &m.Message }

// Signature implements message.Envelope.
func (m *SerializeEntity) Signature() string {
	return fmt.Sprintf("serialize:%s:%s", m.Iface, m.DocID)
}

// PackageEntity asks the pipeline to compress a serialized document.
type PackageEntity struct {
	message.Message
	Iface string
	DocID string
}

// NewPackageEntity mints a PackageEntity for the identified document.
func NewPackageEntity(f *message.Factory, iface, docID string) *PackageEntity {
	var m = &PackageEntity{
		Message: f.New(TypePackageEntity, TypePackageEntity),
		Iface:   iface,
		DocID:   docID,
	}
	m.System = true
	m.Destination = message.DestSystem
	return m
}

// Base implements message.Envelope.
func (m *PackageEntity) Base() *message.Message { return &m.Message }

// Signature implements message.Envelope.
func (m *PackageEntity) Signature() string {
	return fmt.Sprintf("package:%s:%s", m.Iface, m.DocID)
}

// SendEntity carries the compressed bytes of a document to the out sender.
type SendEntity struct {
	message.Message
	Iface   string
	DocID   string
	Payload []byte
}

// NewSendEntity mints a SendEntity carrying payload.
func NewSendEntity(f *message.Factory, iface, docID string, payload []byte) *SendEntity {
	var m = &SendEntity{
		Message: f.New(TypeSendEntity, TypeSendEntity),
		Iface:   iface,
		DocID:   docID,
		Payload: payload,
	}
	m.System = true
	m.Destination = message.DestOutSender
	return m
}

// Base implements message.Envelope.
func (m *SendEntity) Base() *message.Message { return &m.Message }

// Signature implements message.Envelope.
func (m *SendEntity) Signature() string {
	return fmt.Sprintf("send:%s:%s", m.Iface, m.DocID)
}

// StatusReq carries a load report from the downstream aggregator.
type StatusReq struct {
	message.Message
	CPULoad  float64
	DBLoad   float64
	Keepdown bool
}

// NewStatusReq mints a StatusReq from a decoded status frame.
func NewStatusReq(f *message.Factory, cpu, db float64, keepdown bool) *StatusReq {
	var m = &StatusReq{
		Message:  f.New(TypeStatusReq, TypeStatusReq),
		CPULoad:  cpu,
		DBLoad:   db,
		Keepdown: keepdown,
	}
	m.System = true
	m.Destination = message.DestSystem
	return m
}

// Base implements message.Envelope.
func (m *StatusReq) Base() *message.Message { return &m.Message }

// Signature implements message.Envelope.
func (m *StatusReq) Signature() string { return "status:" + m.ID }
