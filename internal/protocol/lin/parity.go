package lin

// MaxID 6位帧ID上限
const MaxID = 0x3F

// PID 计算受保护ID：id | p0<<6 | p1<<7
// p0 = id0^id1^id2^id4，p1 = ^(id1^id3^id4^id5)，位序从最低位开始
func PID(id uint8) uint8 {
	id &= MaxID
	bit := func(n uint) uint8 { return (id >> n) & 0x01 }
	p0 := bit(0) ^ bit(1) ^ bit(2) ^ bit(4)
	p1 := ^(bit(1) ^ bit(3) ^ bit(4) ^ bit(5)) & 0x01
	return id | p0<<6 | p1<<7
}

// ParseID 从受保护ID中取出帧ID并校验奇偶位
func ParseID(pid uint8) (uint8, error) {
	id := pid & MaxID
	if PID(id) != pid {
		return id, ErrParity
	}
	return id, nil
}
