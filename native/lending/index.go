package lending

// The live listings of each status bucket are indexed twice: once in a
// global doubly-linked chain and once in the owner's chain. Nodes are stored
// in an arena keyed by (status, listingID) with explicit neighbour
// identifiers; the zero identifier is the "absent" sentinel, so listing ids
// start at one. Insert splices at the head and removal splices from
// anywhere, both in O(1), which keeps out-of-order retirement cheap.
//
// Both chains are always mutated together inside a single call so their
// memberships cannot drift.

type nodeAccessor struct {
	get func(ListingStatus, uint64) (*ListNode, error)
	put func(ListingStatus, uint64, *ListNode) error

	headGet func(ListingStatus) (uint64, error)
	headSet func(ListingStatus, uint64) error
}

func (e *Engine) globalChain() nodeAccessor {
	return nodeAccessor{
		get:     e.state.NodeGet,
		put:     e.state.NodePut,
		headGet: e.state.HeadGet,
		headSet: e.state.HeadSet,
	}
}

func (e *Engine) ownerChain(owner [20]byte) nodeAccessor {
	return nodeAccessor{
		get: e.state.OwnerNodeGet,
		put: e.state.OwnerNodePut,
		headGet: func(status ListingStatus) (uint64, error) {
			return e.state.OwnerHeadGet(owner, status)
		},
		headSet: func(status ListingStatus, listingID uint64) error {
			return e.state.OwnerHeadSet(owner, status, listingID)
		},
	}
}

// insertListNode splices the listing to the front of both the global chain
// and the owner's chain for the given status bucket.
func (e *Engine) insertListNode(owner [20]byte, listingID uint64, status ListingStatus) error {
	if err := insertAtHead(e.globalChain(), listingID, status); err != nil {
		return err
	}
	return insertAtHead(e.ownerChain(owner), listingID, status)
}

// removeListNode splices the listing out of both chains for the given status
// bucket. Removing an already-unlinked node is a no-op.
func (e *Engine) removeListNode(owner [20]byte, listingID uint64, status ListingStatus) error {
	if err := removeFromChain(e.globalChain(), listingID, status); err != nil {
		return err
	}
	return removeFromChain(e.ownerChain(owner), listingID, status)
}

func insertAtHead(chain nodeAccessor, listingID uint64, status ListingStatus) error {
	head, err := chain.headGet(status)
	if err != nil {
		return err
	}
	if head != 0 {
		headNode, err := chain.get(status, head)
		if err != nil {
			return err
		}
		headNode.Parent = listingID
		if err := chain.put(status, head, headNode); err != nil {
			return err
		}
	}
	node := &ListNode{ListingID: listingID, Child: head}
	if err := chain.put(status, listingID, node); err != nil {
		return err
	}
	return chain.headSet(status, listingID)
}

func removeFromChain(chain nodeAccessor, listingID uint64, status ListingStatus) error {
	node, err := chain.get(status, listingID)
	if err != nil {
		return err
	}
	if !node.Linked() {
		return nil
	}
	if node.Parent != 0 {
		parent, err := chain.get(status, node.Parent)
		if err != nil {
			return err
		}
		parent.Child = node.Child
		if err := chain.put(status, node.Parent, parent); err != nil {
			return err
		}
	} else {
		// The node was the head; the head pointer advances toward the tail.
		if err := chain.headSet(status, node.Child); err != nil {
			return err
		}
	}
	if node.Child != 0 {
		child, err := chain.get(status, node.Child)
		if err != nil {
			return err
		}
		child.Parent = node.Parent
		if err := chain.put(status, node.Child, child); err != nil {
			return err
		}
	}
	return chain.put(status, listingID, &ListNode{})
}

// WalkListings traverses the global chain for a status bucket from the head
// toward the tail, invoking fn for each listing id in LIFO order. Traversal
// stops when fn returns false.
func (e *Engine) WalkListings(status ListingStatus, fn func(listingID uint64) bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	cursor, err := e.state.HeadGet(status)
	if err != nil {
		return err
	}
	for cursor != 0 {
		if !fn(cursor) {
			return nil
		}
		node, err := e.state.NodeGet(status, cursor)
		if err != nil {
			return err
		}
		cursor = node.Child
	}
	return nil
}

// WalkOwnerListings traverses an owner's chain for a status bucket in LIFO
// order, invoking fn for each listing id until it returns false.
func (e *Engine) WalkOwnerListings(owner [20]byte, status ListingStatus, fn func(listingID uint64) bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	cursor, err := e.state.OwnerHeadGet(owner, status)
	if err != nil {
		return err
	}
	for cursor != 0 {
		if !fn(cursor) {
			return nil
		}
		node, err := e.state.OwnerNodeGet(status, cursor)
		if err != nil {
			return err
		}
		cursor = node.Child
	}
	return nil
}
