// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Wire framing: unsigned, fixed-width, little-endian scalars; every
// variable-length field (panorama, endorsed set, value bytes) is
// preceded by a uint32 length prefix. This is the one ambient concern
// left on encoding/binary rather than a third-party codec — see
// DESIGN.md for the rationale.
package highway

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/validators"
)

// HashSize is the canonical digest length: BLAKE2b-256 everywhere.
const HashSize = 32

func toID(b []byte) ids.ID {
	var id ids.ID
	copy(id[:], b)
	return id
}

func sum(b []byte) ids.ID {
	h, err := blake2b.New(HashSize, nil)
	if err != nil {
		// HashSize (32) is always a valid blake2b digest size; this
		// branch cannot be reached with the constant above.
		panic(err)
	}
	_, _ = h.Write(b)
	return toID(h.Sum(nil))
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func putPanorama(buf *bytes.Buffer, p Panorama) {
	putUint32(buf, uint32(len(p)))
	for _, obs := range p {
		buf.WriteByte(byte(obs.Kind))
		buf.Write(obs.Hash[:])
	}
}

func putHashes(buf *bytes.Buffer, hs []ids.ID) {
	putUint32(buf, uint32(len(hs)))
	for _, h := range hs {
		buf.Write(h[:])
	}
}

// encodeWireUnit serializes every WireUnit field except the signature,
// in the exact byte layout the canonical hash binds.
func encodeWireUnit(w WireUnit) []byte {
	buf := new(bytes.Buffer)
	putUint32(buf, uint32(w.Creator))
	putUint64(buf, w.InstanceID)
	putUint64(buf, w.SeqNumber)
	putUint64(buf, w.Timestamp)
	buf.WriteByte(w.RoundExp)
	putPanorama(buf, w.Panorama)
	putHashes(buf, w.Endorsed)
	if w.HasValue {
		buf.WriteByte(1)
		putBytes(buf, w.Value)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// HashWireUnit returns the canonical BLAKE2b-256 hash of w, excluding
// the signature, so the signature binds to this hash.
func HashWireUnit(w WireUnit) ids.ID {
	return sum(encodeWireUnit(w))
}

// HashEndorsement returns the canonical hash an endorsement signature
// binds.
func HashEndorsement(e Endorsement) ids.ID {
	buf := new(bytes.Buffer)
	buf.Write(e.UnitHash[:])
	putUint32(buf, uint32(e.Endorser))
	return sum(buf.Bytes())
}

// EncodeUnit serializes a fully signed unit, including its signature,
// for wire transmission.
func EncodeUnit(u *SignedUnit) []byte {
	buf := new(bytes.Buffer)
	buf.Write(encodeWireUnit(u.WireUnit))
	sigBytes := bls.SignatureToBytes(u.Signature)
	putBytes(buf, sigBytes)
	return buf.Bytes()
}

// DecodeUnit reverses EncodeUnit.
func DecodeUnit(data []byte) (*SignedUnit, error) {
	r := bytes.NewReader(data)
	w, err := decodeWireUnit(r)
	if err != nil {
		return nil, err
	}
	sigBytes, err := readBytes(r)
	if err != nil {
		return nil, fmt.Errorf("decode unit signature: %w", err)
	}
	sig, err := bls.SignatureFromBytes(sigBytes)
	if err != nil {
		return nil, fmt.Errorf("decode unit signature: %w", err)
	}
	return &SignedUnit{WireUnit: w, Signature: sig, hash: HashWireUnit(w), hashSet: true}, nil
}

func decodeWireUnit(r *bytes.Reader) (WireUnit, error) {
	var w WireUnit
	creator, err := readUint32(r)
	if err != nil {
		return w, err
	}
	w.Creator = validators.Index(creator)
	if w.InstanceID, err = readUint64(r); err != nil {
		return w, err
	}
	if w.SeqNumber, err = readUint64(r); err != nil {
		return w, err
	}
	if w.Timestamp, err = readUint64(r); err != nil {
		return w, err
	}
	roundExp, err := r.ReadByte()
	if err != nil {
		return w, err
	}
	w.RoundExp = roundExp
	if w.Panorama, err = readPanorama(r); err != nil {
		return w, err
	}
	if w.Endorsed, err = readHashes(r); err != nil {
		return w, err
	}
	hasValue, err := r.ReadByte()
	if err != nil {
		return w, err
	}
	if hasValue == 1 {
		w.HasValue = true
		if w.Value, err = readBytes(r); err != nil {
			return w, err
		}
	}
	return w, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err == nil && n != len(b) {
		err = fmt.Errorf("short read: got %d want %d", n, len(b))
	}
	return n, err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := readFull(r, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func readHashes(r *bytes.Reader) ([]ids.ID, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]ids.ID, n)
	for i := range out {
		var b [HashSize]byte
		if _, err := readFull(r, b[:]); err != nil {
			return nil, err
		}
		out[i] = toID(b[:])
	}
	return out, nil
}

func readPanorama(r *bytes.Reader) (Panorama, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make(Panorama, n)
	for i := range out {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var h [HashSize]byte
		if _, err := readFull(r, h[:]); err != nil {
			return nil, err
		}
		out[i] = Observation{Kind: ObsKind(kind), Hash: toID(h[:])}
	}
	return out, nil
}

// EncodeEvidence serializes a piece of equivocation evidence.
func EncodeEvidence(e *Evidence) []byte {
	buf := new(bytes.Buffer)
	b1 := EncodeUnit(e.Unit1)
	b2 := EncodeUnit(e.Unit2)
	putBytes(buf, b1)
	putBytes(buf, b2)
	return buf.Bytes()
}

// DecodeEvidence reverses EncodeEvidence.
func DecodeEvidence(data []byte) (*Evidence, error) {
	r := bytes.NewReader(data)
	b1, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	b2, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	u1, err := DecodeUnit(b1)
	if err != nil {
		return nil, err
	}
	u2, err := DecodeUnit(b2)
	if err != nil {
		return nil, err
	}
	return &Evidence{Unit1: u1, Unit2: u2}, nil
}

// EncodeEndorsements serializes a batch of signed endorsements.
func EncodeEndorsements(es Endorsements) []byte {
	buf := new(bytes.Buffer)
	putUint32(buf, uint32(len(es)))
	for _, se := range es {
		buf.Write(se.UnitHash[:])
		putUint32(buf, uint32(se.Endorser))
		putBytes(buf, bls.SignatureToBytes(se.Signature))
	}
	return buf.Bytes()
}

// DecodeEndorsements reverses EncodeEndorsements.
func DecodeEndorsements(data []byte) (Endorsements, error) {
	r := bytes.NewReader(data)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make(Endorsements, n)
	for i := range out {
		var h [HashSize]byte
		if _, err := readFull(r, h[:]); err != nil {
			return nil, err
		}
		endorser, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		sigBytes, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		sig, err := bls.SignatureFromBytes(sigBytes)
		if err != nil {
			return nil, err
		}
		out[i] = &SignedEndorsement{
			Endorsement: Endorsement{UnitHash: toID(h[:]), Endorser: validators.Index(endorser)},
			Signature:   sig,
		}
	}
	return out, nil
}
