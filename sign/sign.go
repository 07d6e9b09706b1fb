/*
Package sign wraps the two signature schemes used by the replicas:
plain ED25519 for per-replica signatures and the kyber threshold
scheme (tbls over bn256) for aggregated quorum certificates.
*/
package sign

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"io"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

var suite = bn256.NewSuite()

// GenED25519Keys creates a fresh ED25519 key pair.
func GenED25519Keys() (ed25519.PrivateKey, ed25519.PublicKey) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return privKey, pubKey
}

// SignEd25519 signs the data with the ED25519 private key.
func SignEd25519(privKey ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(privKey, data)
}

// VerifySignEd25519 verifies an ED25519 signature over data.
func VerifySignEd25519(pubKey ed25519.PublicKey, data []byte, sig []byte) (bool, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return false, errors.New("the public key has a wrong size")
	}
	return ed25519.Verify(pubKey, data, sig), nil
}

// GenTSKeys creates n shares of a threshold key with threshold t and
// the public polynomial used to verify partial and intact signatures.
func GenTSKeys(t, n int) ([]*share.PriShare, *share.PubPoly) {
	secret := suite.G1().Scalar().Pick(suite.RandomStream())
	priPoly := share.NewPriPoly(suite.G2(), t, secret, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())
	shares := priPoly.Shares(n)
	return shares, pubPoly
}

// SignTSPartial creates a partial threshold signature over data.
func SignTSPartial(priShare *share.PriShare, data []byte) []byte {
	partialSig, err := tbls.Sign(suite, priShare, data)
	if err != nil {
		panic(err)
	}
	return partialSig
}

// VerifyTSPartial checks one partial threshold signature over data.
func VerifyTSPartial(pubPoly *share.PubPoly, data []byte, partialSig []byte) error {
	return tbls.Verify(suite, pubPoly, data, partialSig)
}

// AssembleIntactTSPartial recovers the intact threshold signature from
// at least t partial signatures over the same data.
func AssembleIntactTSPartial(partialSigs [][]byte, pubPoly *share.PubPoly, data []byte, t, n int) []byte {
	intactSig, err := tbls.Recover(suite, pubPoly, data, partialSigs, t, n)
	if err != nil {
		panic(err)
	}
	return intactSig
}

// VerifyTS checks an intact threshold signature over data.
func VerifyTS(pubPoly *share.PubPoly, data []byte, intactSig []byte) (bool, error) {
	err := bls.Verify(suite, pubPoly.Commit(), data, intactSig)
	if err != nil {
		return false, err
	}
	return true, nil
}

// EncodeTSPublicKey serializes the public polynomial.
func EncodeTSPublicKey(pubPoly *share.PubPoly) ([]byte, error) {
	base, commits := pubPoly.Info()
	var buf bytes.Buffer
	if err := encodePoint(&buf, base); err != nil {
		return nil, err
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(commits)))
	buf.Write(count[:])
	for _, commit := range commits {
		if err := encodePoint(&buf, commit); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeTSPublicKey deserializes the public polynomial.
func DecodeTSPublicKey(data []byte) (*share.PubPoly, error) {
	r := bytes.NewReader(data)
	base, err := decodePoint(r)
	if err != nil {
		return nil, err
	}
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	num := binary.LittleEndian.Uint32(count[:])
	commits := make([]kyber.Point, num)
	for i := range commits {
		if commits[i], err = decodePoint(r); err != nil {
			return nil, err
		}
	}
	return share.NewPubPoly(suite.G2(), base, commits), nil
}

// EncodeTSPartialKey serializes one private share.
func EncodeTSPartialKey(priShare *share.PriShare) ([]byte, error) {
	var buf bytes.Buffer
	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], uint32(priShare.I))
	buf.Write(index[:])
	scalarAsBytes, err := priShare.V.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf.Write(scalarAsBytes)
	return buf.Bytes(), nil
}

// DecodeTSPartialKey deserializes one private share.
func DecodeTSPartialKey(data []byte) (*share.PriShare, error) {
	if len(data) < 4 {
		return nil, errors.New("the encoded share is too short")
	}
	index := binary.LittleEndian.Uint32(data[:4])
	scalar := suite.G2().Scalar()
	if err := scalar.UnmarshalBinary(data[4:]); err != nil {
		return nil, err
	}
	return &share.PriShare{I: int(index), V: scalar}, nil
}

func encodePoint(buf *bytes.Buffer, p kyber.Point) error {
	pointAsBytes, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(pointAsBytes)))
	buf.Write(size[:])
	buf.Write(pointAsBytes)
	return nil
}

func decodePoint(r *bytes.Reader) (kyber.Point, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	pointAsBytes := make([]byte, binary.LittleEndian.Uint32(size[:]))
	if _, err := io.ReadFull(r, pointAsBytes); err != nil {
		return nil, err
	}
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(pointAsBytes); err != nil {
		return nil, err
	}
	return p, nil
}
