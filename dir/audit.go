package dir

import (
	"log"
	"time"

	"github.com/m-lab/domain-kernel/audit"
	"github.com/m-lab/domain-kernel/uuid"
)

// NewAuditFunc adapts an audit.Pipeline into the AuditFunc hook
// Dispatcher.DoOp calls after every locally-handled operation,
// spec.md §4.4's "if audit is enabled emit an audit record."
func NewAuditFunc(pipeline *audit.Pipeline, gen *uuid.Generator) AuditFunc {
	return func(req Request, resp Response, hintIndex int, wasFirstHint bool) {
		correlationID, err := gen.New()
		if err != nil {
			log.Println("dir: audit correlation id:", err)
		}
		meta := opcodeTable[req.Opcode]
		rec := audit.Record{
			CorrelationID: correlationID,
			Timestamp:     time.Now(),
			DirUID:        req.DirUID,
			Opcode:        byte(req.Opcode),
			OpcodeName:    meta.Name,
			Status:        resp.Status,
			HintIndex:     hintIndex,
			FirstHint:     wasFirstHint,
		}
		if err := pipeline.Emit(rec); err != nil {
			log.Println("dir: audit emit:", err)
		}
	}
}
