package mods

// FingerprintEntry is one dependency of a content asset and the hash of its content.
// An empty Hash marks a dependency that could not be read.
type FingerprintEntry struct {
	Path string `yaml:"path"`
	Hash string `yaml:"hash"`
}

// Fingerprint is the ordered dependency closure of an asset.
type Fingerprint []FingerprintEntry

// Clone returns an independent copy.
func (f Fingerprint) Clone() Fingerprint {
	if f == nil {
		return nil
	}
	out := make(Fingerprint, len(f))
	copy(out, f)
	return out
}
