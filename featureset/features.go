// Package featureset decodes the feature-flag bitfields a device reports
// into a fixed set of named capabilities.
//
// A device advertises capabilities through three independent sources:
//
//   - a feature integer whose low 32 bits are tested directly,
//   - the upper half of the same integer (bits 32..63),
//   - a variable-length hexadecimal string indexed from its least
//     significant nibble.
//
// A feature integer of zero means "no flags known", not "all flags off":
// every flag derived from the integer (direct or upper-half) reports false
// in that case. The hex string is an independent source and is still
// consulted. Out-of-range indexes and non-hex characters in the string
// read as false rather than failing.
package featureset

import "strconv"

// Features is the immutable capability set of one device. Computed once at
// device setup; traits read it but never modify it.
type Features struct {
	// Derived from the feature integer, low 32 bits
	ShowCleanFinishReason  bool
	Resegment              bool
	VideoMonitor           bool
	AnyStateTransitGoto    bool
	FWFilterObstacle       bool
	VideoSettings          bool
	IgnoreUnknownMapObject bool
	ChildLock              bool
	Carpet                 bool
	RecordAllowed          bool
	MopPath                bool
	CurrentMapRestore      bool
	RoomName               bool
	PhotoUpload            bool
	ShakeMopSet            bool
	NewCleanHistory        bool
	NewCleanHistoryDetail  bool
	FlowLedSetting         bool
	DustCollectionSetting  bool
	RPCRetry               bool
	AvoidCollision         bool
	SwitchMapMode          bool
	MapCarpetAdd           bool
	CustomWaterBoxDistance bool

	// Derived from the feature integer, upper half
	SmartScene             bool
	FloorEdit              bool
	Furniture              bool
	WashThenChargeCmd      bool
	RoomTag                bool
	QuickMapBuilder        bool
	SmartGlobalCleanCustom bool
	CarefulSlowMop         bool
	EggMode                bool
	CarpetShowOnMap        bool
	ValleyElectricity      bool
	UnsaveMapReason        bool
	DownloadTestVoice      bool
	BackupMap              bool
	CustomModeInCleaning   bool
	RemoteControlInCall    bool

	// Derived from the last 8 hex digits of the feature string
	SetVolumeInCall    bool
	CleanEstimate      bool
	CustomDnD          bool
	CarpetDeepClean    bool
	StuckZone          bool
	CustomDoorSill     bool
	WifiManage         bool
	CleanRouteFastMode bool
	CliffZone          bool
	SmartDoorSill      bool
	FloorDirection     bool
	BackChargeAutoWash bool
	SuperDeepWash      bool

	// Derived from nibble-indexed bits of the whole feature string
	DirtyReplenishClean  bool
	AvoidCollisionMode   bool
	VoiceControl         bool
	NewEndpoint          bool
	HotWashTowel         bool
	PetSuppliesDeepClean bool
	CarpetCustomClean    bool
	SmartCleanModeSet    bool
	DirtyObjectDetect    bool
	WaterLeakCheck       bool
	GapDeepClean         bool
	IdentifyRoom         bool
	Matter               bool
}

// Logical bit indexes into the feature string, counted from the least
// significant nibble. Values come from the vendor app.
const (
	strBitDirtyReplenishClean  = 34
	strBitAvoidCollisionMode   = 36
	strBitVoiceControl         = 37
	strBitNewEndpoint          = 38
	strBitHotWashTowel         = 41
	strBitPetSuppliesDeepClean = 43
	strBitCarpetCustomClean    = 49
	strBitSmartCleanModeSet    = 55
	strBitDirtyObjectDetect    = 56
	strBitWaterLeakCheck       = 60
	strBitGapDeepClean         = 63
	strBitIdentifyRoom         = 66
	strBitMatter               = 67
)

// FromFlags computes the capability set from the raw feature integer and
// the auxiliary feature string.
func FromFlags(featureInt uint64, featureStr string) Features {
	bit := func(n uint) bool {
		return featureInt&(1<<n) != 0
	}
	// A zero feature integer means unknown: upper-half flags must report
	// false, not merely compute false from a zero shift.
	upper := func(n uint) bool {
		return featureInt != 0 && (featureInt>>32)&(1<<n) != 0
	}
	tail := hexTail(featureStr)
	tbit := func(n uint) bool {
		return tail&(1<<n) != 0
	}
	sbit := func(o int) bool {
		return hexStringBit(featureStr, o)
	}

	return Features{
		ShowCleanFinishReason:  bit(0),
		Resegment:              bit(2),
		VideoMonitor:           bit(3),
		AnyStateTransitGoto:    bit(4),
		FWFilterObstacle:       bit(5),
		VideoSettings:          bit(6),
		IgnoreUnknownMapObject: bit(7),
		ChildLock:              bit(8),
		Carpet:                 bit(9),
		RecordAllowed:          bit(10),
		MopPath:                bit(11),
		CurrentMapRestore:      bit(13),
		RoomName:               bit(14),
		PhotoUpload:            bit(16),
		ShakeMopSet:            bit(18),
		NewCleanHistory:        bit(22),
		NewCleanHistoryDetail:  bit(23),
		FlowLedSetting:         bit(24),
		DustCollectionSetting:  bit(25),
		RPCRetry:               bit(26),
		AvoidCollision:         bit(27),
		SwitchMapMode:          bit(28),
		MapCarpetAdd:           bit(30),
		CustomWaterBoxDistance: bit(31),

		SmartScene:             upper(1),
		FloorEdit:              upper(3),
		Furniture:              upper(4),
		WashThenChargeCmd:      upper(5),
		RoomTag:                upper(6),
		QuickMapBuilder:        upper(7),
		SmartGlobalCleanCustom: upper(8),
		CarefulSlowMop:         upper(9),
		EggMode:                upper(10),
		CarpetShowOnMap:        upper(12),
		ValleyElectricity:      upper(13),
		UnsaveMapReason:        upper(14),
		DownloadTestVoice:      upper(16),
		BackupMap:              upper(17),
		CustomModeInCleaning:   upper(18),
		RemoteControlInCall:    upper(19),

		SetVolumeInCall:    tbit(0),
		CleanEstimate:      tbit(1),
		CustomDnD:          tbit(2),
		CarpetDeepClean:    tbit(3),
		StuckZone:          tbit(4),
		CustomDoorSill:     tbit(5),
		WifiManage:         tbit(7),
		CleanRouteFastMode: tbit(8),
		CliffZone:          tbit(9),
		SmartDoorSill:      tbit(10),
		FloorDirection:     tbit(11),
		BackChargeAutoWash: tbit(12),
		SuperDeepWash:      tbit(15),

		DirtyReplenishClean:  sbit(strBitDirtyReplenishClean),
		AvoidCollisionMode:   sbit(strBitAvoidCollisionMode),
		VoiceControl:         sbit(strBitVoiceControl),
		NewEndpoint:          sbit(strBitNewEndpoint),
		HotWashTowel:         sbit(strBitHotWashTowel),
		PetSuppliesDeepClean: sbit(strBitPetSuppliesDeepClean),
		CarpetCustomClean:    sbit(strBitCarpetCustomClean),
		SmartCleanModeSet:    sbit(strBitSmartCleanModeSet),
		DirtyObjectDetect:    sbit(strBitDirtyObjectDetect),
		WaterLeakCheck:       sbit(strBitWaterLeakCheck),
		GapDeepClean:         sbit(strBitGapDeepClean),
		IdentifyRoom:         sbit(strBitIdentifyRoom),
		Matter:               sbit(strBitMatter),
	}
}

// hexTail parses the last 8 hex digits of the feature string (or the whole
// string when shorter) as an unsigned integer. Returns 0 when the string
// is empty or not valid hex.
func hexTail(s string) uint64 {
	if s == "" {
		return 0
	}
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

// hexStringBit reports logical bit o of the feature string: the hex digit
// at position -(o/4+1) from the end is parsed as a nibble and bit o mod 4
// of it is tested. Any out-of-range index or non-hex digit reads as false.
func hexStringBit(s string, o int) bool {
	if o < 0 {
		return false
	}
	idx := len(s) - (o/4 + 1)
	if idx < 0 || idx >= len(s) {
		return false
	}
	nibble, err := strconv.ParseUint(string(s[idx]), 16, 8)
	if err != nil {
		return false
	}
	return nibble>>(o%4)&1 == 1
}
