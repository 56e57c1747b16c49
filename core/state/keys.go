package state

import "encoding/binary"

// State keys are human-readable prefixes with fixed-width binary suffixes so
// related records sort together in the backing store.

func appendUint64(key []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(key, buf[:]...)
}

func appendUint32(key []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(key, buf[:]...)
}

func appendUint16(key []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(key, buf[:]...)
}

func listingKey(id uint64) []byte {
	return appendUint64([]byte("lending/listing/"), id)
}

func listingSeqKey() []byte {
	return []byte("lending/listingSeq")
}

func assetListingKey(assetID uint64) []byte {
	return appendUint64([]byte("lending/assetListing/"), assetID)
}

func headKey(status uint8) []byte {
	return append([]byte("lending/head/"), status)
}

func ownerHeadKey(owner [20]byte, status uint8) []byte {
	key := append([]byte("lending/ownerHead/"), owner[:]...)
	return append(key, status)
}

func nodeKey(status uint8, listingID uint64) []byte {
	key := append([]byte("lending/node/"), status)
	return appendUint64(key, listingID)
}

func ownerNodeKey(status uint8, listingID uint64) []byte {
	key := append([]byte("lending/ownerNode/"), status)
	return appendUint64(key, listingID)
}

func borrowerSlotKey(borrower [20]byte) []byte {
	return append([]byte("lending/borrower/"), borrower[:]...)
}

func lentAssetKey(lender [20]byte, assetID uint64) []byte {
	key := append([]byte("lending/lent/"), lender[:]...)
	return appendUint64(key, assetID)
}

func lentCountKey(lender [20]byte) []byte {
	return append([]byte("lending/lentCount/"), lender[:]...)
}

func revenueTokenKey(token [20]byte) []byte {
	return append([]byte("lending/revenueToken/"), token[:]...)
}

func accessRightKey(assetID uint64, action uint16) []byte {
	key := appendUint64([]byte("lending/access/"), assetID)
	return appendUint16(key, action)
}

func assetKey(assetID uint64) []byte {
	return appendUint64([]byte("lending/asset/"), assetID)
}

func operatorKey(owner, operator [20]byte) []byte {
	key := append([]byte("lending/operator/"), owner[:]...)
	return append(key, operator[:]...)
}

func balanceKey(token, addr [20]byte) []byte {
	key := append([]byte("lending/balance/"), token[:]...)
	return append(key, addr[:]...)
}

func allowanceKey(token, owner, spender [20]byte) []byte {
	key := append([]byte("lending/allowance/"), token[:]...)
	key = append(key, owner[:]...)
	return append(key, spender[:]...)
}

func whitelistKey(listID uint32) []byte {
	return appendUint32([]byte("lending/whitelist/"), listID)
}

func whitelistMemberKey(listID uint32, addr [20]byte) []byte {
	key := appendUint32([]byte("lending/whitelistMember/"), listID)
	return append(key, addr[:]...)
}

func pauseKey(module string) []byte {
	return append([]byte("lending/paused/"), module...)
}
