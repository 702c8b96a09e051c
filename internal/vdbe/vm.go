package vdbe

import (
	"fmt"
	"sort"

	"github.com/SimonWaldherr/tinySQL/internal/ast"
	"github.com/SimonWaldherr/tinySQL/internal/btree"
	"github.com/SimonWaldherr/tinySQL/internal/dberr"
	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/schema"
)

// idxMaintTarget is the P4 payload of IdxInsert/IdxDelete: the owning
// table (for BuildIndexKey's affinity coercion) and the index being
// maintained.
type idxMaintTarget struct {
	table *schema.Table
	idx   *schema.Index
}

// VM is one program's execution context: register file, cursor table,
// and the pager/schema it reads and writes through (spec.md §4.9 "State:
// program counter, register file, cursor table, ... last-insert-rowid,
// change-counter").
type VM struct {
	p   *pager.Pager
	cat *schema.Catalog

	reg     []record.Value
	cursors []*cursorState
	params  []record.Value

	rows     [][]record.Value
	writeTx  bool
	joinedTx bool
	began    bool

	resultSkip  int
	resultLimit int

	LastInsertRowid int64
	Changes         int
}

// NewVM builds an interpreter bound to p/cat, with params bound to a
// program's `?` placeholders in order.
func NewVM(p *pager.Pager, cat *schema.Catalog, params []record.Value) *VM {
	return &VM{p: p, cat: cat, params: params, resultLimit: -1}
}

// Rows is the accumulated ResultRow output of a SELECT program.
func (vm *VM) Rows() [][]record.Value { return vm.rows }

// Run executes prog to completion (a Halt instruction), returning any
// error raised along the way. Run is not reentrant; build a fresh VM per
// statement execution.
func (vm *VM) Run(prog *Program) error {
	vm.reg = make([]record.Value, prog.NumReg)
	vm.cursors = make([]*cursorState, prog.NumCursor)
	pc := 0
	for pc < len(prog.Instrs) {
		in := prog.Instrs[pc]
		switch in.Op {
		case OpInit:
			pc++
		case OpGoto:
			pc = in.P2
		case OpIf:
			if truthy(vm.reg[in.P1]) {
				pc = in.P2
			} else {
				pc++
			}
		case OpIfNot:
			if !truthy(vm.reg[in.P1]) {
				pc = in.P2
			} else {
				pc++
			}
		case OpHalt:
			return vm.halt(in.P1, in.P5, in.P4)

		case OpOpenRead, OpOpenWrite:
			tgt := in.P4.(*cursorTarget)
			cs := &cursorState{table: tgt.table, index: tgt.index}
			if tgt.table != nil {
				cs.tree = btree.OpenTableTree(vm.p, tgt.table.RootPage)
			} else {
				cs.tree = btree.OpenIndexTree(vm.p, tgt.index.RootPage, tgt.index.KeyInfo)
			}
			cs.cur = cs.tree.NewCursor()
			vm.cursors[in.P1] = cs
			pc++
		case OpOpenEphemeral:
			cs := &cursorState{ephemeral: true}
			if ki, ok := in.P4.(*record.KeyInfo); ok {
				cs.sorter = true
				cs.ephemeral = false
				cs.sortKI = ki
			}
			vm.cursors[in.P1] = cs
			pc++
		case OpClose:
			vm.cursors[in.P1] = nil
			pc++

		case OpRewind:
			ok, err := vm.cursorRewind(vm.cursors[in.P1])
			if err != nil {
				return err
			}
			if !ok {
				pc = in.P2
			} else {
				pc++
			}
		case OpNext:
			ok, err := vm.cursorAdvance(vm.cursors[in.P1])
			if err != nil {
				return err
			}
			if ok {
				pc = in.P2
			} else {
				pc++
			}
		case OpSeekGE:
			cs := vm.cursors[in.P1]
			n := in.P4.(int)
			decoded := append([]record.Value{}, vm.reg[in.P3:in.P3+n]...)
			key := record.Encode(decoded)
			if _, err := cs.cur.SeekIndex(key, decoded, cs.index.KeyInfo); err != nil {
				return err
			}
			if cs.cur.State() != btree.StateValid {
				pc = in.P2
				break
			}
			if err := vm.loadIndexRow(cs); err != nil {
				return err
			}
			pc++
		case OpSeekRowid:
			cs := vm.cursors[in.P1]
			found, err := cs.cur.SeekTable(vm.reg[in.P3].I)
			if err != nil {
				return err
			}
			if !found {
				pc = in.P2
				break
			}
			if _, err := cs.loadTableRow(); err != nil {
				return err
			}
			pc++
		case OpNotExists:
			cs := vm.cursors[in.P1]
			found, err := cs.cur.SeekTable(vm.reg[in.P3].I)
			if err != nil {
				return err
			}
			if !found {
				pc = in.P2
				break
			}
			if _, err := cs.loadTableRow(); err != nil {
				return err
			}
			pc++
		case OpFoundKey:
			cs := vm.cursors[in.P1]
			n := in.P4.(int)
			cols := vm.reg[in.P3 : in.P3+n]
			exclude := vm.reg[in.P5].I
			violated, err := vm.checkUniqueViolation(cs, cols, exclude)
			if err != nil {
				return err
			}
			if !violated {
				pc = in.P2
			} else {
				pc++
			}

		case OpRowid:
			vm.reg[in.P2] = record.Integer(vm.cursors[in.P1].curRowid)
			pc++
		case OpEvalExpr:
			v, err := vm.evalExpr(in.P4.(ast.Expr), in.P2)
			if err != nil {
				return err
			}
			vm.reg[in.P1] = v
			pc++
		case OpResultLimit:
			vm.resultSkip = int(vm.reg[in.P1].I)
			vm.resultLimit = int(vm.reg[in.P2].I)
			pc++
		case OpResultRow:
			switch {
			case vm.resultSkip > 0:
				vm.resultSkip--
			case vm.resultLimit == 0:
				// limit already exhausted; drop the row
			default:
				row := make([]record.Value, in.P2)
				copy(row, vm.reg[in.P1:in.P1+in.P2])
				vm.rows = append(vm.rows, row)
				if vm.resultLimit > 0 {
					vm.resultLimit--
				}
			}
			pc++
		case OpMakeRecord:
			enc := record.Encode(vm.reg[in.P1 : in.P1+in.P2])
			vm.reg[in.P3] = record.Blob(enc)
			pc++
		case OpNewRowid:
			vm.reg[in.P2] = record.Integer(vm.cursors[in.P1].table.AllocRowID())
			pc++
		case OpInsertRow:
			cs := vm.cursors[in.P1]
			rowid := vm.reg[in.P2].I
			if err := cs.tree.InsertTable(rowid, vm.reg[in.P3].S); err != nil {
				return err
			}
			cs.table.ObserveRowID(rowid)
			vm.LastInsertRowid = rowid
			vm.Changes++
			pc++
		case OpDeleteRow:
			cs := vm.cursors[in.P1]
			if err := cs.tree.DeleteTable(cs.curRowid); err != nil {
				return err
			}
			vm.Changes++
			pc++
		case OpIdxInsert:
			cs := vm.cursors[in.P1]
			tgt := in.P4.(*idxMaintTarget)
			rowid := vm.reg[in.P2].I
			row := vm.reg[in.P3 : in.P3+len(tgt.table.Columns)]
			key, decoded := schema.BuildIndexKey(tgt.table, tgt.idx, row, rowid)
			if err := cs.tree.InsertIndexKey(key, decoded); err != nil {
				return err
			}
			pc++
		case OpIdxDelete:
			cs := vm.cursors[in.P1]
			tgt := in.P4.(*idxMaintTarget)
			rowid := vm.reg[in.P2].I
			row := vm.reg[in.P3 : in.P3+len(tgt.table.Columns)]
			key, decoded := schema.BuildIndexKey(tgt.table, tgt.idx, row, rowid)
			if err := cs.tree.DeleteIndexKey(key, decoded); err != nil {
				return err
			}
			pc++
		case OpEphInsert:
			cs := vm.cursors[in.P1]
			cs.ephRows = append(cs.ephRows, vm.reg[in.P2].I)
			pc++
		case OpSorterInsert:
			cs := vm.cursors[in.P1]
			key, err := record.Decode(vm.reg[in.P2].S)
			if err != nil {
				return err
			}
			payload, err := record.Decode(vm.reg[in.P3].S)
			if err != nil {
				return err
			}
			cs.sortRows = append(cs.sortRows, append(key, payload...))
			pc++
		case OpSort:
			cs := vm.cursors[in.P1]
			nkey := in.P2
			sort.SliceStable(cs.sortRows, func(i, j int) bool {
				return record.CompareRecords(cs.sortRows[i][:nkey], cs.sortRows[j][:nkey], cs.sortKI) < 0
			})
			pc++
		case OpSorterData:
			cs := vm.cursors[in.P1]
			row := cs.sortRows[cs.sortPos]
			n := in.P3
			copy(vm.reg[in.P2:in.P2+n], row[len(row)-n:])
			pc++

		case OpTransaction:
			if in.P1 == 1 {
				if vm.p.InWriteTxn() {
					// Nested inside a caller-managed BEGIN/COMMIT: join it
					// without opening a second write transaction, and leave
					// its commit/rollback to that outer caller.
					vm.joinedTx = true
				} else {
					if err := vm.p.BeginWrite(); err != nil {
						return err
					}
					vm.writeTx = true
				}
			} else {
				vm.p.BeginRead()
			}
			vm.began = true
			pc++

		case OpInteger:
			vm.reg[in.P2] = record.Integer(int64(in.P1))
			pc++
		case OpNull:
			vm.reg[in.P2] = record.Null()
			pc++
		case OpString:
			vm.reg[in.P2] = record.Text(in.P4.(string))
			pc++
		case OpCopy:
			vm.reg[in.P2] = vm.reg[in.P1]
			pc++
		case OpLimit:
			if vm.reg[in.P1].I <= 0 {
				pc = in.P2
			} else {
				vm.reg[in.P1].I--
				pc++
			}

		default:
			return fmt.Errorf("vdbe: unimplemented opcode %v", in.Op)
		}
	}
	return nil
}

func (vm *VM) halt(code int, ext uint16, p4 any) error {
	var runErr error
	if code != 0 {
		msg, ok := p4.(string)
		if !ok {
			msg = "halt"
		}
		if ext != 0 {
			runErr = dberr.NewExtended(dberr.Code(code), dberr.Extended(ext), "%s", msg)
		} else {
			runErr = dberr.New(dberr.Code(code), "%s", msg)
		}
	}
	if !vm.began || vm.joinedTx {
		// A program joined an already-open caller-managed transaction (an
		// explicit BEGIN ... COMMIT spanning several statements): commit
		// and rollback are that caller's responsibility, not this one
		// statement's.
		return runErr
	}
	if runErr != nil {
		if vm.writeTx {
			vm.p.Rollback()
		} else {
			vm.p.EndRead()
		}
		return runErr
	}
	if vm.writeTx {
		return vm.p.Commit()
	}
	vm.p.EndRead()
	return nil
}

func (vm *VM) cursorRewind(cs *cursorState) (bool, error) {
	switch {
	case cs.sorter:
		if len(cs.sortRows) == 0 {
			return false, nil
		}
		cs.sortPos = 0
		return true, nil
	case cs.ephemeral:
		if len(cs.ephRows) == 0 {
			return false, nil
		}
		cs.ephPos = 0
		cs.curRowid = cs.ephRows[0]
		return true, nil
	default:
		ok, err := cs.cur.First()
		if err != nil || !ok {
			return false, err
		}
		if cs.index != nil {
			return true, vm.loadIndexRow(cs)
		}
		_, err = cs.loadTableRow()
		return true, err
	}
}

func (vm *VM) cursorAdvance(cs *cursorState) (bool, error) {
	switch {
	case cs.sorter:
		cs.sortPos++
		return cs.sortPos < len(cs.sortRows), nil
	case cs.ephemeral:
		cs.ephPos++
		if cs.ephPos >= len(cs.ephRows) {
			return false, nil
		}
		cs.curRowid = cs.ephRows[cs.ephPos]
		return true, nil
	default:
		ok, err := cs.cur.Next()
		if err != nil || !ok {
			return false, err
		}
		if cs.index != nil {
			return true, vm.loadIndexRow(cs)
		}
		_, err = cs.loadTableRow()
		return true, err
	}
}

func (vm *VM) loadIndexRow(cs *cursorState) error {
	payload, err := cs.cur.Payload()
	if err != nil {
		return err
	}
	vals, err := record.Decode(payload)
	if err != nil {
		return err
	}
	cs.curRow = vals
	cs.curRowid = vals[len(vals)-1].I
	return nil
}

// checkUniqueViolation reports whether an index entry with cols (the
// index's declared columns only, no trailing rowid) already exists under
// a rowid other than exclude (exclude is -1 for a fresh INSERT, the
// row's own rowid for an UPDATE that must tolerate its own unchanged key).
func (vm *VM) checkUniqueViolation(cs *cursorState, cols []record.Value, exclude int64) (bool, error) {
	seekKey := append(append([]record.Value{}, cols...), record.Integer(minInt64))
	key := record.Encode(seekKey)
	if _, err := cs.cur.SeekIndex(key, seekKey, cs.index.KeyInfo); err != nil {
		return false, err
	}
	for cs.cur.State() == btree.StateValid {
		payload, err := cs.cur.Payload()
		if err != nil {
			return false, err
		}
		vals, err := record.Decode(payload)
		if err != nil {
			return false, err
		}
		if !prefixEqual(vals, cols) {
			return false, nil
		}
		rowid := vals[len(vals)-1].I
		if rowid != exclude {
			return true, nil
		}
		ok, err := cs.cur.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return false, nil
}

const minInt64 = -1 << 63

func prefixEqual(vals, cols []record.Value) bool {
	if len(vals) < len(cols)+1 {
		return false
	}
	for i, c := range cols {
		if record.CompareValue(vals[i], c, record.ColumnKey{}) != 0 {
			return false
		}
	}
	return true
}
