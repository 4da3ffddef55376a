package database

// orderColumns is the column list shared by every order read and insert.
// scanOrder and orderArgs follow the same order.
const orderColumns = `id, number, customer_id, staff_id, guests, restaurant_id, category,
	order_type, order_from, payment_type, payment_method, items, price, estimated_time,
	status, completed, preparation_start, preparation_end, waiting_list, tables,
	reorder_of, reorder_count, delivery_time, visitors, instructions, coupon,
	version, created_at, updated_at`

// Order queries
const (
	InsertOrderSQL = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

	// UpdateOrderSQL takes orderArgs plus the expected stored version as $30.
	UpdateOrderSQL = `
		UPDATE orders SET
			customer_id = $3, staff_id = $4, guests = $5, restaurant_id = $6, category = $7,
			order_type = $8, order_from = $9, payment_type = $10, payment_method = $11,
			items = $12, price = $13, estimated_time = $14, status = $15, completed = $16,
			preparation_start = $17, preparation_end = $18, waiting_list = $19, tables = $20,
			reorder_of = $21, reorder_count = $22, delivery_time = $23, visitors = $24,
			instructions = $25, coupon = $26, version = $27, created_at = $28, updated_at = $29
		WHERE id = $1 AND number = $2 AND version = $30`

	GetOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	GetOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	GetOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	OrderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	DeleteOrderSQL = `DELETE FROM orders WHERE id = $1 RETURNING ` + orderColumns

	ListOrdersByRestaurantSQL = `
		SELECT ` + orderColumns + ` FROM orders
		WHERE restaurant_id = $1
		  AND (COALESCE(cardinality($2::text[]), 0) = 0 OR status = ANY($2::text[]))
		ORDER BY created_at DESC, number DESC`

	ListOrdersByUserSQL = `
		SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 OR staff_id = $1 OR $1 = ANY(guests)
		ORDER BY created_at DESC, number DESC`

	// SlotLockSQL serializes creators contending for one table slot until
	// the transaction ends.
	SlotLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

	CountContendingSQL = `
		SELECT COUNT(*) FROM orders
		WHERE delivery_time = $1 AND status <> 'cancelled' AND tables && $2::text[]`

	CountReordersSQL = `SELECT COUNT(*) FROM orders WHERE reorder_of = $1`

	InsertOrderStatusLogSQL = `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5)`

	GetOrderStatusHistorySQL = `
		SELECT status, changed_by, changed_at, notes
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC`
)

// Catalog queries
const (
	GetRestaurantSQL = `SELECT id, name, owner_id FROM restaurants WHERE id = $1`

	GetMenuItemsSQL = `
		SELECT id, restaurant_id, name, non_veg, estimated_time, ingredients
		FROM menu_items WHERE id = ANY($1::text[])`

	GetCombosSQL = `SELECT id, restaurant_id, name, items FROM combos WHERE id = ANY($1::text[])`

	GetTaxRateSQL = `SELECT restaurant_id, rate::text FROM taxes WHERE restaurant_id = $1`
)

// Fulfillment effect queries
const (
	InsertDeductionMarkerSQL = `
		INSERT INTO inventory_deductions (order_id, deductions)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING`

	DeductInventorySQL = `
		UPDATE inventory_items
		SET quantity = quantity - $3::numeric, updated_at = NOW()
		WHERE restaurant_id = $1 AND name = $2
		RETURNING quantity::text, unit`

	InsertInvoiceSQL = `
		INSERT INTO invoices (id, order_id, customer_id, restaurant_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, order_id, customer_id, restaurant_id, created_at`

	GetInvoiceByOrderSQL = `
		SELECT id, order_id, customer_id, restaurant_id, created_at
		FROM invoices WHERE order_id = $1`

	InsertLoyaltyMarkerSQL = `
		INSERT INTO loyalty_awards (order_id, awards)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING`

	CreditLoyaltySQL = `
		INSERT INTO loyalty_balances (user_id, points)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			points = loyalty_balances.points + EXCLUDED.points,
			updated_at = NOW()`
)

// Outbox queries
const (
	InsertTaskSQL = `
		INSERT INTO fulfillment_tasks (order_id, order_number, restaurant_id, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (order_id) DO NOTHING`

	GetTaskSQL = `
		SELECT order_id, order_number, restaurant_id, enqueued_at, state, last_error, updated_at
		FROM fulfillment_tasks WHERE order_id = $1`

	CompleteTaskSQL = `
		UPDATE fulfillment_tasks SET state = 'done', last_error = '', updated_at = NOW()
		WHERE order_id = $1`

	ParkTaskSQL = `
		UPDATE fulfillment_tasks SET state = 'failed', last_error = $2, updated_at = NOW()
		WHERE order_id = $1`

	TaskExistsSQL = `SELECT EXISTS (SELECT 1 FROM fulfillment_tasks WHERE order_id = $1)`

	ListEffectsSQL = `
		SELECT effect, state, attempts, last_error
		FROM fulfillment_effects WHERE order_id = $1`

	GetEffectSQL = `
		SELECT state, attempts, last_error
		FROM fulfillment_effects WHERE order_id = $1 AND effect = $2`

	EffectDoneSQL = `
		INSERT INTO fulfillment_effects (order_id, effect, state)
		VALUES ($1, $2, 'done')
		ON CONFLICT (order_id, effect) DO UPDATE SET
			state = 'done',
			last_error = '',
			updated_at = NOW()
		RETURNING state, attempts, last_error`

	// A parked effect is left alone and returns no row.
	EffectFailedSQL = `
		INSERT INTO fulfillment_effects (order_id, effect, state, attempts, last_error)
		VALUES ($1, $2, CASE WHEN 1 >= $4 THEN 'failed' ELSE 'pending' END, 1, $3)
		ON CONFLICT (order_id, effect) DO UPDATE SET
			attempts = fulfillment_effects.attempts + 1,
			last_error = EXCLUDED.last_error,
			state = CASE WHEN fulfillment_effects.attempts + 1 >= $4 THEN 'failed' ELSE 'pending' END,
			updated_at = NOW()
		WHERE fulfillment_effects.state = 'pending'
		RETURNING state, attempts, last_error`

	TouchTaskSQL = `UPDATE fulfillment_tasks SET updated_at = NOW() WHERE order_id = $1`

	StaleTasksSQL = `
		SELECT order_id, order_number, restaurant_id, enqueued_at
		FROM fulfillment_tasks
		WHERE state = 'pending' AND updated_at < $1
		ORDER BY enqueued_at ASC
		LIMIT $2`

	TouchTasksSQL = `UPDATE fulfillment_tasks SET updated_at = NOW() WHERE order_id = ANY($1::text[])`
)
