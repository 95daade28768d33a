package proof

import "encoding/base64"

// Every ProofData implementation renders as base64(Encode(pd)) so that
// statements can sit directly inside JSON documents.

func marshalProof(pd ProofData) ([]byte, error) {
	enc := Encode(pd)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(enc)))
	base64.StdEncoding.Encode(out, enc)
	return out, nil
}

func unmarshalProof[T ProofData](text []byte) (T, error) {
	var zero T
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(raw, text)
	if err != nil {
		return zero, ErrMalformedProof
	}
	pd, err := Decode(raw[:n])
	if err != nil {
		return zero, err
	}
	t, ok := pd.(T)
	if !ok {
		return zero, ErrUnknownKind
	}
	return t, nil
}

func (pd *PubkeyValidityProofData) MarshalText() ([]byte, error) { return marshalProof(pd) }

func (pd *PubkeyValidityProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*PubkeyValidityProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}

func (pd *ZeroCiphertextProofData) MarshalText() ([]byte, error) { return marshalProof(pd) }

func (pd *ZeroCiphertextProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*ZeroCiphertextProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}

func (pd *CiphertextCommitmentEqualityProofData) MarshalText() ([]byte, error) {
	return marshalProof(pd)
}

func (pd *CiphertextCommitmentEqualityProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*CiphertextCommitmentEqualityProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}

func (pd *CiphertextCiphertextEqualityProofData) MarshalText() ([]byte, error) {
	return marshalProof(pd)
}

func (pd *CiphertextCiphertextEqualityProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*CiphertextCiphertextEqualityProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}

func (pd *GroupedValidityProofData) MarshalText() ([]byte, error) { return marshalProof(pd) }

func (pd *GroupedValidityProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*GroupedValidityProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}

func (pd *BatchedGroupedValidityProofData) MarshalText() ([]byte, error) { return marshalProof(pd) }

func (pd *BatchedGroupedValidityProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*BatchedGroupedValidityProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}

func (pd *BatchedRangeProofData) MarshalText() ([]byte, error) { return marshalProof(pd) }

func (pd *BatchedRangeProofData) UnmarshalText(text []byte) error {
	v, err := unmarshalProof[*BatchedRangeProofData](text)
	if err == nil {
		*pd = *v
	}
	return err
}
