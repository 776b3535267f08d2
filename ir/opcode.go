package ir

// Opcode names every micro-instruction the lowering package knows how to
// materialise, plus the three pseudo-operations. Grouped to match the
// lowering package's per-family files.
type Opcode int

const (
	OpInvalid Opcode = iota

	// Guest-register / flag ops.
	OpGetRegister
	OpSetRegister
	OpGetExtendedRegister32
	OpSetExtendedRegister32
	OpGetExtendedRegister64
	OpSetExtendedRegister64
	OpGetCpsr
	OpSetCpsr
	OpGetNFlag
	OpSetNFlag
	OpGetZFlag
	OpSetZFlag
	OpGetCFlag
	OpSetCFlag
	OpGetVFlag
	OpSetVFlag
	OpOrQFlag
	OpGetGEFlags
	OpSetGEFlags
	OpBXWritePC

	// Data-movement casts.
	OpIdentity
	OpLeastSignificantWord
	OpLeastSignificantHalf
	OpLeastSignificantByte
	OpMostSignificantWord
	OpMostSignificantBit
	OpZeroExtendByteToWord
	OpZeroExtendHalfToWord
	OpZeroExtendWordToLong
	OpSignExtendByteToWord
	OpSignExtendHalfToWord
	OpSignExtendWordToLong
	OpPack2x32To1x64

	// Bit utilities.
	OpIsZero
	OpIsZero64
	OpByteReverseHalf
	OpByteReverseWord
	OpByteReverseDual
	OpCountLeadingZeros

	// Shifts.
	OpLogicalShiftLeft
	OpLogicalShiftRight
	OpLogicalShiftRight64
	OpArithmeticShiftRight
	OpRotateRight
	OpRotateRightExtended

	// Arithmetic with carry/overflow.
	OpAddWithCarry
	OpSubWithCarry
	OpAdd64
	OpSub64
	OpMul
	OpMul64

	// Bitwise.
	OpAnd
	OpOr
	OpEor
	OpNot

	// Saturation.
	OpSignedSaturatedAdd
	OpSignedSaturatedSub
	OpUnsignedSaturation
	OpSignedSaturation

	// Packed SIMD-in-GPR.
	OpPackedAddU8
	OpPackedAddS8
	OpPackedAddU16
	OpPackedAddS16
	OpPackedSubU8
	OpPackedSubS8
	OpPackedSubU16
	OpPackedSubS16
	OpPackedHalvingAddU8
	OpPackedHalvingAddS8
	OpPackedHalvingAddU16
	OpPackedHalvingAddS16
	OpPackedHalvingSubU8
	OpPackedHalvingSubS8
	OpPackedHalvingSubU16
	OpPackedHalvingSubS16
	OpPackedHalvingSubAddS16
	OpPackedSaturatedAddU8
	OpPackedSaturatedAddS8
	OpPackedSaturatedAddU16
	OpPackedSaturatedAddS16
	OpPackedSaturatedSubU8
	OpPackedSaturatedSubS8
	OpPackedSaturatedSubU16
	OpPackedSaturatedSubS16
	OpPackedAbsDiffSumS8

	// Floating point.
	OpFPAbs32
	OpFPAbs64
	OpFPNeg32
	OpFPNeg64
	OpFPAdd32
	OpFPAdd64
	OpFPSub32
	OpFPSub64
	OpFPMul32
	OpFPMul64
	OpFPDiv32
	OpFPDiv64
	OpFPSqrt32
	OpFPSqrt64
	OpFPCompare32
	OpFPCompare64
	OpFPSingleToS32
	OpFPSingleToU32
	OpFPDoubleToS32
	OpFPDoubleToU32
	OpFPS32ToSingle
	OpFPU32ToSingle
	OpFPS32ToDouble
	OpFPU32ToDouble

	// Memory.
	OpReadMemory8
	OpReadMemory16
	OpReadMemory32
	OpReadMemory64
	OpWriteMemory8
	OpWriteMemory16
	OpWriteMemory32
	OpWriteMemory64
	OpClearExclusive
	OpSetExclusive
	OpExclusiveWriteMemory8
	OpExclusiveWriteMemory16
	OpExclusiveWriteMemory32
	OpExclusiveWriteMemory64

	// Coprocessor.
	OpCoprocInternalOperation
	OpCoprocSendOneWord
	OpCoprocSendTwoWords
	OpCoprocGetOneWord
	OpCoprocGetTwoWords
	OpCoprocLoadWords
	OpCoprocStoreWords

	// Terminator-adjacent non-terminal opcode.
	OpPushRSB

	// Pseudo-operations: attached to a parent producer, never lowered alone.
	OpGetCarryFromOp
	OpGetOverflowFromOp
	OpGetGEFromOp
)

var opcodeNames = map[Opcode]string{
	OpGetRegister: "GetRegister", OpSetRegister: "SetRegister",
	OpGetExtendedRegister32: "GetExtendedRegister32", OpSetExtendedRegister32: "SetExtendedRegister32",
	OpGetExtendedRegister64: "GetExtendedRegister64", OpSetExtendedRegister64: "SetExtendedRegister64",
	OpGetCpsr: "GetCpsr", OpSetCpsr: "SetCpsr",
	OpGetNFlag: "GetNFlag", OpSetNFlag: "SetNFlag",
	OpGetZFlag: "GetZFlag", OpSetZFlag: "SetZFlag",
	OpGetCFlag: "GetCFlag", OpSetCFlag: "SetCFlag",
	OpGetVFlag: "GetVFlag", OpSetVFlag: "SetVFlag",
	OpOrQFlag: "OrQFlag", OpGetGEFlags: "GetGEFlags", OpSetGEFlags: "SetGEFlags",
	OpBXWritePC: "BXWritePC",

	OpIdentity: "Identity", OpLeastSignificantWord: "LeastSignificantWord",
	OpLeastSignificantHalf: "LeastSignificantHalf", OpLeastSignificantByte: "LeastSignificantByte",
	OpMostSignificantWord: "MostSignificantWord", OpMostSignificantBit: "MostSignificantBit",
	OpZeroExtendByteToWord: "ZeroExtendByteToWord", OpZeroExtendHalfToWord: "ZeroExtendHalfToWord",
	OpZeroExtendWordToLong: "ZeroExtendWordToLong",
	OpSignExtendByteToWord: "SignExtendByteToWord", OpSignExtendHalfToWord: "SignExtendHalfToWord",
	OpSignExtendWordToLong: "SignExtendWordToLong", OpPack2x32To1x64: "Pack2x32To1x64",

	OpIsZero: "IsZero", OpIsZero64: "IsZero64",
	OpByteReverseHalf: "ByteReverseHalf", OpByteReverseWord: "ByteReverseWord",
	OpByteReverseDual: "ByteReverseDual", OpCountLeadingZeros: "CountLeadingZeros",

	OpLogicalShiftLeft: "LogicalShiftLeft", OpLogicalShiftRight: "LogicalShiftRight",
	OpLogicalShiftRight64: "LogicalShiftRight64", OpArithmeticShiftRight: "ArithmeticShiftRight",
	OpRotateRight: "RotateRight", OpRotateRightExtended: "RotateRightExtended",

	OpAddWithCarry: "AddWithCarry", OpSubWithCarry: "SubWithCarry",
	OpAdd64: "Add64", OpSub64: "Sub64", OpMul: "Mul", OpMul64: "Mul64",

	OpAnd: "And", OpOr: "Or", OpEor: "Eor", OpNot: "Not",

	OpSignedSaturatedAdd: "SignedSaturatedAdd", OpSignedSaturatedSub: "SignedSaturatedSub",
	OpUnsignedSaturation: "UnsignedSaturation", OpSignedSaturation: "SignedSaturation",

	OpPackedAddU8: "PackedAddU8", OpPackedAddS8: "PackedAddS8",
	OpPackedAddU16: "PackedAddU16", OpPackedAddS16: "PackedAddS16",
	OpPackedSubU8: "PackedSubU8", OpPackedSubS8: "PackedSubS8",
	OpPackedSubU16: "PackedSubU16", OpPackedSubS16: "PackedSubS16",
	OpPackedHalvingAddU8: "PackedHalvingAddU8", OpPackedHalvingAddS8: "PackedHalvingAddS8",
	OpPackedHalvingAddU16: "PackedHalvingAddU16", OpPackedHalvingAddS16: "PackedHalvingAddS16",
	OpPackedHalvingSubU8: "PackedHalvingSubU8", OpPackedHalvingSubS8: "PackedHalvingSubS8",
	OpPackedHalvingSubU16: "PackedHalvingSubU16", OpPackedHalvingSubS16: "PackedHalvingSubS16",
	OpPackedHalvingSubAddS16: "PackedHalvingSubAddS16",
	OpPackedSaturatedAddU8: "PackedSaturatedAddU8", OpPackedSaturatedAddS8: "PackedSaturatedAddS8",
	OpPackedSaturatedAddU16: "PackedSaturatedAddU16", OpPackedSaturatedAddS16: "PackedSaturatedAddS16",
	OpPackedSaturatedSubU8: "PackedSaturatedSubU8", OpPackedSaturatedSubS8: "PackedSaturatedSubS8",
	OpPackedSaturatedSubU16: "PackedSaturatedSubU16", OpPackedSaturatedSubS16: "PackedSaturatedSubS16",
	OpPackedAbsDiffSumS8: "PackedAbsDiffSumS8",

	OpFPAbs32: "FPAbs32", OpFPAbs64: "FPAbs64", OpFPNeg32: "FPNeg32", OpFPNeg64: "FPNeg64",
	OpFPAdd32: "FPAdd32", OpFPAdd64: "FPAdd64", OpFPSub32: "FPSub32", OpFPSub64: "FPSub64",
	OpFPMul32: "FPMul32", OpFPMul64: "FPMul64", OpFPDiv32: "FPDiv32", OpFPDiv64: "FPDiv64",
	OpFPSqrt32: "FPSqrt32", OpFPSqrt64: "FPSqrt64",
	OpFPCompare32: "FPCompare32", OpFPCompare64: "FPCompare64",
	OpFPSingleToS32: "FPSingleToS32", OpFPSingleToU32: "FPSingleToU32",
	OpFPDoubleToS32: "FPDoubleToS32", OpFPDoubleToU32: "FPDoubleToU32",
	OpFPS32ToSingle: "FPS32ToSingle", OpFPU32ToSingle: "FPU32ToSingle",
	OpFPS32ToDouble: "FPS32ToDouble", OpFPU32ToDouble: "FPU32ToDouble",

	OpReadMemory8: "ReadMemory8", OpReadMemory16: "ReadMemory16",
	OpReadMemory32: "ReadMemory32", OpReadMemory64: "ReadMemory64",
	OpWriteMemory8: "WriteMemory8", OpWriteMemory16: "WriteMemory16",
	OpWriteMemory32: "WriteMemory32", OpWriteMemory64: "WriteMemory64",
	OpClearExclusive: "ClearExclusive", OpSetExclusive: "SetExclusive",
	OpExclusiveWriteMemory8: "ExclusiveWriteMemory8", OpExclusiveWriteMemory16: "ExclusiveWriteMemory16",
	OpExclusiveWriteMemory32: "ExclusiveWriteMemory32", OpExclusiveWriteMemory64: "ExclusiveWriteMemory64",

	OpCoprocInternalOperation: "CoprocInternalOperation",
	OpCoprocSendOneWord: "CoprocSendOneWord", OpCoprocSendTwoWords: "CoprocSendTwoWords",
	OpCoprocGetOneWord: "CoprocGetOneWord", OpCoprocGetTwoWords: "CoprocGetTwoWords",
	OpCoprocLoadWords: "CoprocLoadWords", OpCoprocStoreWords: "CoprocStoreWords",

	OpPushRSB: "PushRSB",

	OpGetCarryFromOp: "GetCarryFromOp", OpGetOverflowFromOp: "GetOverflowFromOp",
	OpGetGEFromOp: "GetGEFromOp",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "Invalid"
}

// resultType is the static type of each opcode's result, used by Ref to
// type-check/tag a Value without re-deriving it at every call site.
var resultType = map[Opcode]Type{
	OpGetRegister: TypeU32, OpGetExtendedRegister32: TypeU32, OpGetExtendedRegister64: TypeU64,
	OpGetCpsr: TypeU32,
	OpGetNFlag: TypeU1, OpGetZFlag: TypeU1, OpGetCFlag: TypeU1, OpGetVFlag: TypeU1,
	OpGetGEFlags: TypeU32,

	OpIdentity: TypeU32, OpLeastSignificantWord: TypeU32, OpLeastSignificantHalf: TypeU16,
	OpLeastSignificantByte: TypeU8, OpMostSignificantWord: TypeU32, OpMostSignificantBit: TypeU1,
	OpZeroExtendByteToWord: TypeU32, OpZeroExtendHalfToWord: TypeU32, OpZeroExtendWordToLong: TypeU64,
	OpSignExtendByteToWord: TypeU32, OpSignExtendHalfToWord: TypeU32, OpSignExtendWordToLong: TypeU64,
	OpPack2x32To1x64: TypeU64,

	OpIsZero: TypeU1, OpIsZero64: TypeU1,
	OpByteReverseHalf: TypeU16, OpByteReverseWord: TypeU32, OpByteReverseDual: TypeU64,
	OpCountLeadingZeros: TypeU32,

	OpLogicalShiftLeft: TypeU32, OpLogicalShiftRight: TypeU32, OpLogicalShiftRight64: TypeU64,
	OpArithmeticShiftRight: TypeU32, OpRotateRight: TypeU32, OpRotateRightExtended: TypeU32,

	OpAddWithCarry: TypeU32, OpSubWithCarry: TypeU32, OpAdd64: TypeU64, OpSub64: TypeU64,
	OpMul: TypeU32, OpMul64: TypeU64,

	OpAnd: TypeU32, OpOr: TypeU32, OpEor: TypeU32, OpNot: TypeU32,

	OpSignedSaturatedAdd: TypeU32, OpSignedSaturatedSub: TypeU32,
	OpUnsignedSaturation: TypeU32, OpSignedSaturation: TypeU32,

	OpFPAbs32: TypeF32, OpFPAbs64: TypeF64, OpFPNeg32: TypeF32, OpFPNeg64: TypeF64,
	OpFPAdd32: TypeF32, OpFPAdd64: TypeF64, OpFPSub32: TypeF32, OpFPSub64: TypeF64,
	OpFPMul32: TypeF32, OpFPMul64: TypeF64, OpFPDiv32: TypeF32, OpFPDiv64: TypeF64,
	OpFPSqrt32: TypeF32, OpFPSqrt64: TypeF64,
	OpFPCompare32: TypeVoid, OpFPCompare64: TypeVoid,
	OpFPSingleToS32: TypeU32, OpFPSingleToU32: TypeU32,
	OpFPDoubleToS32: TypeU32, OpFPDoubleToU32: TypeU32,
	OpFPS32ToSingle: TypeF32, OpFPU32ToSingle: TypeF32,
	OpFPS32ToDouble: TypeF64, OpFPU32ToDouble: TypeF64,

	OpReadMemory8: TypeU8, OpReadMemory16: TypeU16, OpReadMemory32: TypeU32, OpReadMemory64: TypeU64,
	OpExclusiveWriteMemory8: TypeU1, OpExclusiveWriteMemory16: TypeU1,
	OpExclusiveWriteMemory32: TypeU1, OpExclusiveWriteMemory64: TypeU1,

	OpCoprocGetOneWord: TypeU32, OpCoprocGetTwoWords: TypeU64,

	OpGetCarryFromOp: TypeU1, OpGetOverflowFromOp: TypeU1, OpGetGEFromOp: TypeU32,

	// Packed-SIMD results, SetRegister/memory-write/void ops default below.
}

func init() {
	for _, op := range []Opcode{
		OpPackedAddU8, OpPackedAddS8, OpPackedAddU16, OpPackedAddS16,
		OpPackedSubU8, OpPackedSubS8, OpPackedSubU16, OpPackedSubS16,
		OpPackedHalvingAddU8, OpPackedHalvingAddS8, OpPackedHalvingAddU16, OpPackedHalvingAddS16,
		OpPackedHalvingSubU8, OpPackedHalvingSubS8, OpPackedHalvingSubU16, OpPackedHalvingSubS16,
		OpPackedHalvingSubAddS16,
		OpPackedSaturatedAddU8, OpPackedSaturatedAddS8, OpPackedSaturatedAddU16, OpPackedSaturatedAddS16,
		OpPackedSaturatedSubU8, OpPackedSaturatedSubS8, OpPackedSaturatedSubU16, OpPackedSaturatedSubS16,
		OpPackedAbsDiffSumS8,
	} {
		resultType[op] = TypeU32
	}
}

// typeOf returns op's static result type, Void if it produces no value.
func typeOf(op Opcode) Type {
	if t, ok := resultType[op]; ok {
		return t
	}
	return TypeVoid
}
