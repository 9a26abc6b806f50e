package lin

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialOptions 串口参数
type SerialOptions struct {
	BaudRate     int    `mapstructure:"baudRate"`
	DataBits     int    `mapstructure:"dataBits"`
	StopBits     int    `mapstructure:"stopBits"`
	Parity       string `mapstructure:"parity"`
	BreakDivisor int    `mapstructure:"breakDivisor"` // 发送 break 时的降速倍数
}

// Normalize 校验并补全默认值
func (o SerialOptions) Normalize() (SerialOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 19200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	if opts.BreakDivisor <= 1 {
		opts.BreakDivisor = 4
	}
	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode 转换为 go.bug.st/serial 的 Mode
func (o SerialOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialPort 基于真实串口的链路原语
// break 通过降低波特率发送 0x00 生成（占满 13 个位时间），之后恢复正常波特率
type SerialPort struct {
	port    serial.Port
	mode    *serial.Mode
	divisor int
}

// OpenSerial 打开串口
func OpenSerial(path string, opts SerialOptions) (*SerialPort, error) {
	norm, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := norm.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return &SerialPort{port: port, mode: mode, divisor: norm.BreakDivisor}, nil
}

// Read 读取可用字节；超时返回 (0, nil)
func (p *SerialPort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// SetReadTimeout 设置读超时
func (p *SerialPort) SetReadTimeout(t time.Duration) error {
	return p.port.SetReadTimeout(t)
}

// WriteFrame 写出一帧：首字节为 break 时走降速发送
func (p *SerialPort) WriteFrame(raw []byte) error {
	if len(raw) > 0 && raw[0] == BreakByte {
		if err := p.sendBreak(); err != nil {
			return fmt.Errorf("send break: %w", err)
		}
		raw = raw[1:]
	}
	if _, err := p.port.Write(raw); err != nil {
		return err
	}
	return p.port.Drain()
}

func (p *SerialPort) sendBreak() error {
	slow := *p.mode
	slow.BaudRate = p.mode.BaudRate / p.divisor
	if err := p.port.SetMode(&slow); err != nil {
		return err
	}
	if _, err := p.port.Write([]byte{BreakByte}); err != nil {
		_ = p.port.SetMode(p.mode)
		return err
	}
	if err := p.port.Drain(); err != nil {
		_ = p.port.SetMode(p.mode)
		return err
	}
	time.Sleep(13 * time.Second / time.Duration(slow.BaudRate))
	return p.port.SetMode(p.mode)
}

// Close 关闭串口
func (p *SerialPort) Close() error {
	return p.port.Close()
}
