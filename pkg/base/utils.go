package base

import (
	"bufio"
	"fmt"
)

func readByteEqual(rb *bufio.Reader, cmp byte) error {
	byt, err := rb.ReadByte()
	if err != nil {
		return err
	}

	if byt != cmp {
		return fmt.Errorf("expected '%c', got '%c'", cmp, byt)
	}

	return nil
}

// readBytesLimited reads until delim is found, delim included.
// At most n bytes are read.
func readBytesLimited(rb *bufio.Reader, delim byte, n int) ([]byte, error) {
	ret := make([]byte, 0, 32)

	for {
		byt, err := rb.ReadByte()
		if err != nil {
			return nil, err
		}

		ret = append(ret, byt)

		if byt == delim {
			return ret, nil
		}

		if len(ret) >= n {
			return nil, fmt.Errorf("buffer length exceeds %d", n)
		}
	}
}
