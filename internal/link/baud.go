package link

import "github.com/daedaluz/goserial"

// baudToCFlag maps a decimal baud rate to the termios CFlag constant
// goserial expects, defaulting to 115200 for anything not in the
// common table (the FPGA link runs at a fixed rate in practice).
func baudToCFlag(baud int) goserial.CFlag {
	switch baud {
	case 9600:
		return goserial.B9600
	case 19200:
		return goserial.B19200
	case 38400:
		return goserial.B38400
	case 57600:
		return goserial.B57600
	case 115200:
		return goserial.B115200
	case 230400:
		return goserial.B230400
	default:
		return goserial.B115200
	}
}
