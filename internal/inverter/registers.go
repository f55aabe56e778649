package inverter

// Sungrow register map. Addresses are register numbers minus one.
const (
	// Device information, input registers
	RegSerialNumber   = 4989 // 10 registers, string
	RegDeviceTypeCode = 4999 // U16
	RegNominalPower   = 5000 // U16, 0.1 kW
	RegOutputType     = 5001 // U16

	// Production
	RegDailyEnergy       = 5002 // U16, 0.1 kWh
	RegTotalEnergy       = 5003 // U32, 0.1 kWh
	RegInsideTemperature = 5007 // S16, 0.1 °C

	// MPPT inputs
	RegMPPT1Voltage = 5010 // U16, 0.1 V
	RegMPPT1Current = 5011 // U16, 0.01 A
	RegMPPT2Voltage = 5012 // U16, 0.1 V
	RegMPPT2Current = 5013 // U16, 0.01 A
	RegTotalDCPower = 5016 // U32, W

	// Grid
	RegPhaseAVoltage = 5018 // U16, 0.1 V
	RegPhaseBVoltage = 5019 // U16, 0.1 V
	RegPhaseCVoltage = 5020 // U16, 0.1 V
	RegGridFrequency = 5021 // U16, 0.1 Hz
	RegPhaseACurrent = 5022 // U16, 0.1 A
	RegPhaseBCurrent = 5023 // U16, 0.1 A
	RegPhaseCCurrent = 5024 // U16, 0.1 A

	// Power
	RegTotalActivePower   = 5030 // U32, W
	RegReactivePower      = 5032 // S32, var
	RegPowerFactor        = 5034 // S16, 0.001
	RegTotalApparentPower = 5035 // U32, VA

	// Status
	RegRunningState = 5037 // U16
	RegFaultCode    = 5039 // U16

	// Power limitation, holding registers
	RegLimitSwitch  = 5006 // U16, LimitOn or LimitOff
	RegLimitSetting = 5007 // U16, 0.1 %
)

// The input block covering every register above, read in one request.
const (
	inputBlockStart = RegSerialNumber
	inputBlockSize  = RegFaultCode - RegSerialNumber + 1
)

const (
	LimitOn  = 0xAA
	LimitOff = 0x55

	// LimitSettingMax is 100 % in setting units.
	LimitSettingMax = 1000
)

// MPPTCount is the number of DC inputs read.
const MPPTCount = 2

// Running states
const (
	StateStop       = 0x0000
	StateStandby    = 0x8000
	StateStartup    = 0x1300
	StateMPPT       = 0x1400
	StateFault      = 0x1500
	StatePowerLimit = 0x1600
	StateShutdown   = 0x1700
)

// Output types
const (
	OutputSinglePhase = 0
	Output3P4L        = 1
	Output3P3L        = 2
)

var runningStates = map[uint16]string{
	StateStop:       "Stop",
	StateStandby:    "Standby",
	StateStartup:    "Starting up",
	StateMPPT:       "MPPT",
	StateFault:      "Fault",
	StatePowerLimit: "Power limiting",
	StateShutdown:   "Shutdown",
}

func RunningStateString(state uint16) string {
	if s, ok := runningStates[state]; ok {
		return s
	}
	return "Unknown"
}

func OutputTypeString(outputType uint16) string {
	switch outputType {
	case OutputSinglePhase:
		return "Single Phase"
	case Output3P4L:
		return "Three Phase 4 Lines"
	case Output3P3L:
		return "Three Phase 3 Lines"
	default:
		return "Unknown"
	}
}
