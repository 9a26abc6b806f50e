package lin

// Checksum 计算经典校验和（覆盖 PID 与数据区）
// 累加超过 0xFF 时减去 0xFF（经典 LIN 回卷），结果取反
func Checksum(pid uint8, data []byte) uint8 {
	sum := uint16(pid)
	for _, b := range data {
		sum += uint16(b)
		if sum > 0xFF {
			sum -= 0xFF
		}
	}
	return ^uint8(sum & 0xFF)
}

// VerifyChecksum 校验收到的校验和
func VerifyChecksum(pid uint8, data []byte, received uint8) error {
	if Checksum(pid, data) != received {
		return ErrChecksum
	}
	return nil
}
