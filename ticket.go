package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"io"
)

// TicketSize is the size of a ticket as stored in a partition header.
const TicketSize = 0x2a4

// Ticket holds the fields of a ticket needed to recover a content key.
type Ticket struct {
	Issuer            string
	EncryptedTitleKey [keySize]byte
	TicketID          uint64
	TitleID           uint64
	CommonKeyIndex    uint8
}

// ReadTicket reads a ticket from r.
func ReadTicket(r io.Reader) (*Ticket, error) {
	tik := struct {
		SignatureType       uint32
		Signature           [0x100]byte
		_                   [0x3c]byte
		Issuer              [0x40]byte
		ECDH                [0x3c]byte
		Version             byte
		CACRLVersion        byte
		SignerCRLVersion    byte
		TitleKey            [keySize]byte
		_                   byte
		TicketID            uint64
		ConsoleID           uint32
		TitleID             uint64
		_                   uint16
		TitleVersion        uint16
		PermittedTitlesMask uint32
		PermitMask          uint32
		ExportAllowed       byte
		CommonKeyIndex      byte
		_                   [TicketSize - 0x1f2]byte
	}{}
	if err := binary.Read(r, binary.BigEndian, &tik); err != nil {
		return nil, err
	}

	t := &Ticket{
		Issuer:            string(bytes.TrimRight(tik.Issuer[:], "\x00")),
		EncryptedTitleKey: tik.TitleKey,
		TicketID:          tik.TicketID,
		TitleID:           tik.TitleID,
		CommonKeyIndex:    tik.CommonKeyIndex,
	}

	return t, nil
}

// ContentKey unwraps the title key using the common key named by the
// ticket. The IV is the title ID padded with zeroes.
func (t *Ticket) ContentKey(ks *KeyStore) ([]byte, error) {
	common, err := ks.Block(int(t.CommonKeyIndex))
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[:8], t.TitleID)

	key := make([]byte, keySize)
	cipher.NewCBCDecrypter(common, iv).CryptBlocks(key, t.EncryptedTitleKey[:])

	return key, nil
}

