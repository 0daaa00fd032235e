package mpu9250

// MPU-9250 register map (subset used here).
const (
	addrDefault = 0x68

	regXGOffsetH    = 0x13
	regSmplrtDiv    = 0x19
	regConfig       = 0x1A
	regGyroConfig   = 0x1B
	regAccelConfig  = 0x1C
	regAccelConfig2 = 0x1D
	regFIFOEn       = 0x23
	regI2CMstCtrl   = 0x24
	regI2CSlv0Addr  = 0x25
	regI2CSlv0Reg   = 0x26
	regI2CSlv0Ctrl  = 0x27
	regIntPinCfg    = 0x37
	regIntEnable    = 0x38
	regAccelXoutH   = 0x3B
	regTempOutH     = 0x41
	regGyroXoutH    = 0x43
	regUserCtrl     = 0x6A
	regPwrMgmt1     = 0x6B
	regPwrMgmt2     = 0x6C
	regBankSel      = 0x6D
	regMemRW        = 0x6F
	regPrgmStartH   = 0x70
	regFIFOCountH   = 0x72
	regFIFORW       = 0x74
	regWhoAmI       = 0x75

	whoAmIVal = 0x71

	bitHReset        = 0x80
	bitSleep         = 0x40
	bitFIFORst       = 0x04
	bitDMPRst        = 0x08
	bitFIFOEn        = 0x40
	bitDMPEn         = 0x80
	bitI2CMstEn      = 0x20
	bitDMPIntEn      = 0x02
	bitBypassEn      = 0x02
	bitActiveLow     = 0x80
	bitSlv0FIFO      = 0x01
	bitGyroXYZFIFO   = 0x70
	bitFIFOSize1024  = 0x40
	bitAccelFChoiceB = 0x08
)

// AK8963 magnetometer, reachable directly in bypass mode or through the
// MPU's I2C master (slave 0) in DMP mode.
const (
	addrMag = 0x0C

	regMagWIA   = 0x00
	regMagST1   = 0x02
	regMagXoutL = 0x03
	regMagCntl  = 0x0A
	regMagASAX  = 0x10

	magWhoAmIVal    = 0x48
	magPowerDown    = 0x00
	magFuseROM      = 0x0F
	magContMeas2    = 0x06
	magOutput16Bit  = 0x10
	magDataReady    = 0x01
	magOverflow     = 0x08 // AK8963 ST2 HOFL: |X|+|Y|+|Z| exceeded 4912 µT
	magStatusTopBit = 0x80 // top bit of the status byte the DMP copies into the FIFO

	// 16-bit output: 4912 µT full scale over 32760 counts.
	magRawToMicroTesla = 4912.0 / 32760.0
)

// Slave-0 routing of AK8963 data into the FIFO.
const (
	i2cMstCtrlDMP  = 0x8D           // 400 kHz, wait for external sensor data
	i2cSlv0ReadMag = 0x80 | addrMag // read transfer
	i2cSlv0Ctrl7   = 0x87           // enable, 7 bytes
)

// DMP memory addresses (InvenSense motion driver key map).
const (
	dmpCfgLPQuat           = 2712
	dmpCfg8                = 2718
	dmpCfgMotionBias       = 1208
	dmpCfgFIFOOnEvent      = 2690
	dmpCfg15               = 2727
	dmpCfg27               = 2742
	dmpCfg20               = 2224
	dmpCfgAndroidOrientInt = 1853
	dmpCfgGyroRawData      = 2722
	dmpCfg6                = 2753
	dmpD022                = 22 + 512
	dmpD0104               = 104
	dmpFCfg1               = 1062
	dmpFCfg2               = 1066
	dmpFCfg3               = 1088
	dmpFCfg7               = 1073

	dmpStartAddr  = 0x0400
	dmpChunkSize  = 16
	dmpBankSize   = 256
	dmpSampleRate = 200
	dmpGyroSF     = 46850825 * 200 / dmpSampleRate
)

// DMP instruction bytes.
const (
	dina0C = 0x0c
	dina2C = 0x2c
	dina4C = 0x4c
	dina6C = 0x6c
	dinaC9 = 0xc9
	dinaCD = 0xcd
	dina36 = 0x36
	dina56 = 0x56
	dina76 = 0x76
	dina26 = 0x26
	dina46 = 0x46
	dina66 = 0x66
	dina20 = 0x20
	dina28 = 0x28
	dina30 = 0x30
	dina38 = 0x38
	dina80 = 0x80
	dina90 = 0x90
	dinaC0 = 0xb0
	dinaC2 = 0xb4
	dinaFE = 0xfe
	dinaF2 = 0xf2
	dinaAB = 0xab
	dinaAA = 0xaa
	dinaF1 = 0xf1
	dinaDF = 0xdf
	dinaD8 = 0xd8
	dinaA3 = 0xa3
	dinb8B = 0x8b
	dinbC0 = 0xc0
	dinbC2 = 0xc2
	dinbC4 = 0xc4
	dinbC6 = 0xc6
	dinbC8 = 0xc8
	dinbCC = 0xcc
)

const (
	// FIFO packet sizes in DMP mode.
	packetLenNoMag = 28
	packetLenMag   = 35
	magBlockLen    = 7

	fifoResetDelay = 2500 // µs

	tempSensitivity = 333.87
	tempOffsetC     = 21.0

	gravity = 9.80665
)
