package arc

import (
	"encoding/binary"
	"hash/fnv"
	"io"
	"math"
)

// Hash returns a stable content hash of f, suitable as an
// incremental-compilation cache key. Two structurally equal functions
// hash identically; the hash covers names, signatures, variable types,
// and the full instruction stream.
func Hash(f *Func) uint64 {
	h := fnv.New64a()
	encode(h, f)
	return h.Sum64()
}

func encode(w io.Writer, f *Func) {
	writeStr(w, f.Name)
	writeInt(w, int64(len(f.Params)))
	for i := range f.Params {
		p := &f.Params[i]
		writeInt(w, int64(p.Var))
		writeInt(w, int64(p.Type))
		writeInt(w, int64(p.Own))
	}
	writeInt(w, int64(f.Ret))
	writeInt(w, int64(f.Entry))
	writeInt(w, int64(len(f.VarType)))
	for _, t := range f.VarType {
		writeInt(w, int64(t))
	}
	writeInt(w, int64(len(f.Blocks)))
	for _, b := range f.Blocks {
		writeInt(w, int64(b.ID))
		writeIDs(w, b.Params)
		writeInt(w, int64(len(b.Instrs)))
		for i := range b.Instrs {
			encodeInstr(w, &b.Instrs[i])
		}
		encodeTerm(w, &b.Term)
	}
}

func encodeInstr(w io.Writer, in *Instr) {
	writeInt(w, int64(in.Op))
	writeInt(w, int64(in.Dst))
	writeInt(w, int64(in.Type))
	writeInt(w, int64(in.Src))
	writeInt(w, int64(in.Token))
	writeInt(w, int64(in.Field))
	writeInt(w, int64(in.Tag))
	writeStr(w, in.Ctor)
	writeStr(w, in.Callee)
	writeIDs(w, in.Args)
	writeInt(w, in.AuxInt)
	writeInt(w, int64(math.Float64bits(in.AuxFloat)))
	writeStr(w, in.AuxStr)
}

func encodeTerm(w io.Writer, t *Term) {
	writeInt(w, int64(t.Kind))
	writeInt(w, int64(t.Value))
	writeInt(w, int64(len(t.Edges)))
	for i := range t.Edges {
		writeInt(w, int64(t.Edges[i].Dest))
		writeIDs(w, t.Edges[i].Args)
	}
	writeInt(w, int64(len(t.Cases)))
	for _, c := range t.Cases {
		writeInt(w, int64(c))
	}
}

func writeInt(w io.Writer, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	w.Write(buf[:])
}

func writeStr(w io.Writer, s string) {
	writeInt(w, int64(len(s)))
	io.WriteString(w, s)
}

func writeIDs(w io.Writer, ids []ID) {
	writeInt(w, int64(len(ids)))
	for _, v := range ids {
		writeInt(w, int64(v))
	}
}

// Equal reports whether a and b are structurally identical: same
// signature, same variable table, same blocks instruction for
// instruction.
func Equal(a, b *Func) bool {
	if a.Name != b.Name || a.Ret != b.Ret || a.Entry != b.Entry {
		return false
	}
	if len(a.Params) != len(b.Params) || len(a.VarType) != len(b.VarType) || len(a.Blocks) != len(b.Blocks) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.VarType {
		if a.VarType[i] != b.VarType[i] {
			return false
		}
	}
	for i := range a.Blocks {
		if !blockEqual(a.Blocks[i], b.Blocks[i]) {
			return false
		}
	}
	return true
}

func blockEqual(a, b *Block) bool {
	if a.ID != b.ID || len(a.Params) != len(b.Params) || len(a.Instrs) != len(b.Instrs) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Instrs {
		if !instrEqual(&a.Instrs[i], &b.Instrs[i]) {
			return false
		}
	}
	return termEqual(&a.Term, &b.Term)
}

func instrEqual(a, b *Instr) bool {
	if a.Op != b.Op || a.Dst != b.Dst || a.Type != b.Type || a.Src != b.Src ||
		a.Token != b.Token || a.Field != b.Field || a.Tag != b.Tag ||
		a.Ctor != b.Ctor || a.Callee != b.Callee ||
		a.AuxInt != b.AuxInt || a.AuxFloat != b.AuxFloat || a.AuxStr != b.AuxStr {
		return false
	}
	return idsEqual(a.Args, b.Args)
}

func termEqual(a, b *Term) bool {
	if a.Kind != b.Kind || a.Value != b.Value || len(a.Edges) != len(b.Edges) || len(a.Cases) != len(b.Cases) {
		return false
	}
	for i := range a.Edges {
		if a.Edges[i].Dest != b.Edges[i].Dest || !idsEqual(a.Edges[i].Args, b.Edges[i].Args) {
			return false
		}
	}
	for i := range a.Cases {
		if a.Cases[i] != b.Cases[i] {
			return false
		}
	}
	return true
}

func idsEqual(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
