package model

// PartitionKind enumerates every partition the flashing sequence may touch.
// Ordering in FASTBOOT_FLASH/FASTBOOTD_FLASH is enforced by the engine, not
// by this list.
type PartitionKind string

const (
	PartitionBootloader        PartitionKind = "bootloader"
	PartitionRadio             PartitionKind = "radio"
	PartitionBoot              PartitionKind = "boot"
	PartitionInitBoot          PartitionKind = "init_boot"
	PartitionVendorBoot        PartitionKind = "vendor_boot"
	PartitionVendorKernelBoot  PartitionKind = "vendor_kernel_boot"
	PartitionDtbo              PartitionKind = "dtbo"
	PartitionPvmfw             PartitionKind = "pvmfw"
	PartitionVbmeta            PartitionKind = "vbmeta"
	PartitionAvbCustomKey      PartitionKind = "avb_custom_key"
	PartitionSuper             PartitionKind = "super"
)

// coreImageOrder is the fixed flash order for the core images — no reboot
// between any of these.
var coreImageOrder = []PartitionKind{
	PartitionBoot,
	PartitionInitBoot,
	PartitionDtbo,
	PartitionVendorKernelBoot,
	PartitionPvmfw,
	PartitionVendorBoot,
	PartitionVbmeta,
}

// CoreImageOrder returns the fixed ordering of core images. Callers must
// not reorder it.
func CoreImageOrder() []PartitionKind {
	out := make([]PartitionKind, len(coreImageOrder))
	copy(out, coreImageOrder)
	return out
}

// optionalPartitions are silently skipped when their image file is absent
// from a bundle; a missing required partition is BundleIncomplete.
var optionalPartitions = map[PartitionKind]bool{
	PartitionPvmfw:        true,
	PartitionInitBoot:     true,
	PartitionAvbCustomKey: true,
}

// IsOptional reports whether a missing image of this kind is tolerated.
func IsOptional(k PartitionKind) bool { return optionalPartitions[k] }

// allKinds enumerates every partition kind a complete bundle may carry,
// bootloader/radio/super included even though they fall outside
// CoreImageOrder's no-reboot sequence.
var allKinds = []PartitionKind{
	PartitionBootloader,
	PartitionRadio,
	PartitionBoot,
	PartitionInitBoot,
	PartitionVendorBoot,
	PartitionVendorKernelBoot,
	PartitionDtbo,
	PartitionPvmfw,
	PartitionVbmeta,
	PartitionAvbCustomKey,
	PartitionSuper,
}

// RequiredKinds returns every partition kind a usable bundle must supply an
// image for, i.e. every known kind that is not optional.
func RequiredKinds() []PartitionKind {
	var out []PartitionKind
	for _, k := range allKinds {
		if !IsOptional(k) {
			out = append(out, k)
		}
	}
	return out
}

// SuperSplit is one ordered chunk of the dynamic super partition. Splits
// must be flashed in increasing Index order; the engine never begins
// split i+1 before split i's exit status is known.
type SuperSplit struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// PartitionFile locates one partition kind's image(s) inside a verified,
// extracted bundle. For every kind but super, exactly one of Path/Splits is
// populated; for super, Splits holds the ordered 1..N sequence.
type PartitionFile struct {
	Kind     PartitionKind `json:"kind"`
	Path     string        `json:"path,omitempty"`
	Splits   []SuperSplit  `json:"splits,omitempty"`
	Required bool          `json:"required"`
}
