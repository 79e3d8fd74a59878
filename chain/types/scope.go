package types

import (
	"encoding/json"
	"fmt"

	"golang.org/x/xerrors"
)

// ScopeKind tags a ProviderScope.
type ScopeKind uint8

const (
	// ScopeBucket is a bucket forest held by the bucket's main storage provider.
	ScopeBucket ScopeKind = iota + 1
	// ScopeBsp is the global forest of a backup storage provider.
	ScopeBsp
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeBucket:
		return "bucket"
	case ScopeBsp:
		return "bsp"
	default:
		return fmt.Sprintf("ScopeKind(%d)", uint8(k))
	}
}

// ProviderScope names the forest a deletion has to be proven against.
// It is a comparable value and can be used as a map key directly.
type ProviderScope struct {
	Kind ScopeKind

	// Provider is the MSP for bucket scopes and the BSP for bsp scopes.
	Provider ProviderID

	// Bucket is only set for bucket scopes.
	Bucket BucketID
}

// BucketScope is the forest of bucket managed by msp.
func BucketScope(msp ProviderID, bucket BucketID) ProviderScope {
	return ProviderScope{Kind: ScopeBucket, Provider: msp, Bucket: bucket}
}

// BspScope is the global forest of bsp.
func BspScope(bsp ProviderID) ProviderScope {
	return ProviderScope{Kind: ScopeBsp, Provider: bsp}
}

func (s ProviderScope) IsBucket() bool { return s.Kind == ScopeBucket }
func (s ProviderScope) IsBsp() bool    { return s.Kind == ScopeBsp }

// BspID returns the bsp for bsp scopes, nil otherwise. Deletion calls use
// it as the optional bsp argument.
func (s ProviderScope) BspID() *ProviderID {
	if s.Kind != ScopeBsp {
		return nil
	}
	p := s.Provider
	return &p
}

// MspID returns the msp for bucket scopes, nil otherwise.
func (s ProviderScope) MspID() *ProviderID {
	if s.Kind != ScopeBucket {
		return nil
	}
	p := s.Provider
	return &p
}

func (s ProviderScope) Validate() error {
	switch s.Kind {
	case ScopeBucket:
		if s.Bucket == (BucketID{}) {
			return xerrors.Errorf("bucket scope without bucket id")
		}
	case ScopeBsp:
		if s.Bucket != (BucketID{}) {
			return xerrors.Errorf("bsp scope carries a bucket id")
		}
	default:
		return xerrors.Errorf("unknown scope kind %d", s.Kind)
	}
	return nil
}

func (s ProviderScope) String() string {
	switch s.Kind {
	case ScopeBucket:
		return fmt.Sprintf("bucket(msp=%s, bucket=%s)", s.Provider, s.Bucket)
	case ScopeBsp:
		return fmt.Sprintf("bsp(%s)", s.Provider)
	default:
		return s.Kind.String()
	}
}

type scopeJSON struct {
	Kind     string
	Provider ProviderID
	Bucket   *BucketID `json:",omitempty"`
}

func (s ProviderScope) MarshalJSON() ([]byte, error) {
	out := scopeJSON{Kind: s.Kind.String(), Provider: s.Provider}
	if s.Kind == ScopeBucket {
		b := s.Bucket
		out.Bucket = &b
	}
	return json.Marshal(out)
}

func (s *ProviderScope) UnmarshalJSON(b []byte) error {
	var in scopeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "bucket":
		if in.Bucket == nil {
			return xerrors.Errorf("bucket scope without bucket id")
		}
		*s = BucketScope(in.Provider, *in.Bucket)
	case "bsp":
		*s = BspScope(in.Provider)
	default:
		return xerrors.Errorf("unknown scope kind %q", in.Kind)
	}
	return nil
}
