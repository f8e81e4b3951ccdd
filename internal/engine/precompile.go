package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

var artifactMagic = [4]byte{'J', 'S', 'B', 'C'}

const artifactVersion uint16 = 1

// functionEntrySize is the encoded size of a function entry with an empty name.
const functionEntrySize = 10

// artifactHeader is the fixed prefix of a precompilation artifact. Function
// entries follow it.
type artifactHeader struct {
	Magic     [4]byte
	Version   uint16
	Flags     uint16
	Hash      uint64
	SourceLen uint32
	Functions uint32
}

type artifact struct {
	header    artifactHeader
	functions []FunctionInfo
}

func encodeArtifact(src string, fns []FunctionInfo) []byte {
	var buf bytes.Buffer
	hdr := artifactHeader{
		Magic:     artifactMagic,
		Version:   artifactVersion,
		Hash:      xxhash.Sum64String(src),
		SourceLen: uint32(len(src)),
		Functions: uint32(len(fns)),
	}
	_ = binary.Write(&buf, binary.BigEndian, hdr)
	for _, fn := range fns {
		name := fn.Name
		if len(name) > 0xffff {
			name = name[:0xffff]
		}
		_ = binary.Write(&buf, binary.BigEndian, [2]uint32{uint32(fn.Line), uint32(fn.Column)})
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(name)))
		buf.WriteString(name)
	}
	return buf.Bytes()
}

// decodeArtifact validates data against src. Artifacts produced for other
// source text are rejected.
func decodeArtifact(data []byte, src string) (*artifact, error) {
	r := bytes.NewReader(data)
	var art artifact
	if err := binary.Read(r, binary.BigEndian, &art.header); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrPrecompileMismatch)
	}
	hdr := art.header
	switch {
	case hdr.Magic != artifactMagic:
		return nil, fmt.Errorf("%w: bad magic", ErrPrecompileMismatch)
	case hdr.Version != artifactVersion:
		return nil, fmt.Errorf("%w: version %d", ErrPrecompileMismatch, hdr.Version)
	case hdr.SourceLen != uint32(len(src)) || hdr.Hash != xxhash.Sum64String(src):
		return nil, fmt.Errorf("%w: source changed", ErrPrecompileMismatch)
	}

	if uint64(hdr.Functions) > uint64(r.Len()/functionEntrySize) {
		return nil, fmt.Errorf("%w: function table exceeds artifact", ErrPrecompileMismatch)
	}
	art.functions = make([]FunctionInfo, 0, hdr.Functions)
	for i := uint32(0); i < hdr.Functions; i++ {
		var pos [2]uint32
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &pos); err != nil {
			return nil, fmt.Errorf("%w: truncated function table", ErrPrecompileMismatch)
		}
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: truncated function table", ErrPrecompileMismatch)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: truncated function table", ErrPrecompileMismatch)
		}
		art.functions = append(art.functions, FunctionInfo{Name: string(name), Line: int(pos[0]), Column: int(pos[1])})
	}
	return &art, nil
}
