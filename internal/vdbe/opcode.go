// Package vdbe is the virtual database engine: a code generator that turns
// a resolved statement plus a planner.WherePlan into a linear program of
// opcodes, and a register-machine interpreter that runs that program
// against the pager/btree/schema stack (spec.md §4.8–4.9).
package vdbe

// Opcode is a dense numeric tag so the interpreter's dispatch loop is a
// single switch with predictable branches (spec.md §9 "Dynamic dispatch").
type Opcode uint8

const (
	OpInit Opcode = iota
	OpGoto
	OpIf    // jump to P2 if register P1 is truthy
	OpIfNot // jump to P2 if register P1 is falsy or NULL
	OpHalt  // P1=dberr.Code result code (0 = success), P4=message, P5=dberr.Extended refinement

	OpOpenRead      // P1=cursor id, P4=*cursorTarget
	OpOpenWrite     // P1=cursor id, P4=*cursorTarget
	OpOpenEphemeral // P1=cursor id, P4=*record.KeyInfo (nil for a rowid-keyed ephemeral)
	OpClose         // P1=cursor id

	OpRewind  // P1=cursor, P2=jump-if-empty
	OpNext    // P1=cursor, P2=jump-if-more
	OpPrev    // P1=cursor, P2=jump-if-more
	OpSeekGE  // P1=cursor, P2=jump-if-past-end, P3=start register, P4=int key column count
	OpSeekRowid
	OpNotExists // P1=cursor, P2=jump-if-absent, P3=rowid register; on a hit the cursor's row is loaded
	OpFoundKey  // P1=cursor, P2=jump-if-no-conflict, P3=start register, P4=int key column count, P5=register holding the rowid to exclude (unique-constraint probe)

	OpRowid       // P1=cursor, P2=dest register: current rowid
	OpEvalExpr    // P1=dest register, P2=cursor-binding table, P4=ast.Expr
	OpResultRow   // P1=start register, P2=count
	OpResultLimit // P1=offset register, P2=limit register (-1 unlimited): governs which ResultRow calls actually surface a row
	OpMakeRecord
	OpNewRowid    // P1=cursor, P2=dest register
	OpInsertRow   // P1=cursor, P2=rowid register, P3=record register
	OpDeleteRow   // P1=cursor
	OpIdxInsert   // P1=cursor, P2=rowid register, P3=first register of the table row, P4=*idxMaintTarget
	OpIdxDelete   // P1=cursor, P2=rowid register, P3=first register of the table row, P4=*idxMaintTarget
	OpEphInsert   // P1=cursor, P2=rowid register (insert current row pointer into ephemeral rowid set)

	// OpSorterOpen and OpSorterNext are reserved but unemitted: the code
	// generator folds sorter-open into OpOpenEphemeral (P4=*record.KeyInfo
	// marks sorter mode) and sorter-advance reuses OpRewind/OpNext, which
	// both branch on cursorState.sorter.
	OpSorterOpen   // P1=cursor, P4=*record.KeyInfo
	OpSorterInsert // P1=cursor, P2=key register, P3=payload register
	OpSort         // P1=cursor
	OpSorterNext   // P1=cursor, P2=jump-if-exhausted
	OpSorterData   // P1=cursor, P2=dest register (decoded payload values)

	// OpAutoCommit is reserved but unemitted: Halt's own P1 result code
	// already decides commit vs. rollback, so no separate instruction is
	// generated for it.
	OpTransaction // P1=0 read, 1 write
	OpAutoCommit  // P1=1 commit, 0 rollback

	OpInteger // P2=dest register, P1=int64 value
	OpNull    // P2=dest register
	OpString  // P4=string, P2=dest register
	OpCopy    // P1=src register, P2=dest register

	OpLimit // P1=count register, decremented each call; jumps to P2 when exhausted
)
